package otel

import "testing"

func TestFilter_Empty(t *testing.T) {
	f := &Filter{}
	if !f.Match("command_executed", "command") {
		t.Error("empty filter should match everything")
	}

	var nilFilter *Filter
	if !nilFilter.Match("command_executed", "command") {
		t.Error("nil filter should match everything")
	}
}

func TestFilter_IncludeTypes(t *testing.T) {
	f := &Filter{IncludeTypes: []string{"bin_*", "command_denied"}}

	cases := []struct {
		eventType string
		want      bool
	}{
		{"bin_stashed", true},
		{"bin_purged", true},
		{"command_denied", true},
		{"command_executed", false},
		{"session_created", false},
	}
	for _, tc := range cases {
		if got := f.Match(tc.eventType, ""); got != tc.want {
			t.Errorf("Match(%q) = %v, want %v", tc.eventType, got, tc.want)
		}
	}
}

func TestFilter_ExcludeTypes(t *testing.T) {
	f := &Filter{ExcludeTypes: []string{"session_*"}}

	if f.Match("session_created", "session") {
		t.Error("expected session_created excluded")
	}
	if !f.Match("command_executed", "command") {
		t.Error("expected command_executed included")
	}
}

func TestFilter_Categories(t *testing.T) {
	f := &Filter{IncludeCategories: []string{"bin", "confirm"}}
	if !f.Match("bin_stashed", "bin") {
		t.Error("expected bin category included")
	}
	if f.Match("command_executed", "command") {
		t.Error("expected command category excluded")
	}

	f = &Filter{ExcludeCategories: []string{"config"}}
	if f.Match("config_reloaded", "config") {
		t.Error("expected config category excluded")
	}
	if !f.Match("bin_stashed", "bin") {
		t.Error("expected bin category included")
	}
}

func TestFilter_IncludeThenExclude(t *testing.T) {
	// Exclusion wins over a matching include.
	f := &Filter{
		IncludeTypes: []string{"command_*"},
		ExcludeTypes: []string{"command_received"},
	}
	if f.Match("command_received", "command") {
		t.Error("expected exclusion to win")
	}
	if !f.Match("command_executed", "command") {
		t.Error("expected non-excluded include to pass")
	}
}
