package otel

import (
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"

	"github.com/safesh/safesh/pkg/types"
)

func recordAttrs(rec otellog.Record) map[string]otellog.Value {
	attrs := make(map[string]otellog.Value)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value
		return true
	})
	return attrs
}

func TestConvertToLogRecord_BasicFields(t *testing.T) {
	ev := types.Event{
		ID:        "evt-123",
		Timestamp: time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC),
		Type:      "command_executed",
		SessionID: "sess-abc",
		CommandID: "cmd-1",
		Verb:      types.VerbList,
		Path:      "/work/docs",
	}

	rec := convertToLogRecord(ev)

	if !rec.Timestamp().Equal(ev.Timestamp) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), ev.Timestamp)
	}

	body := rec.Body()
	if body.Kind() != otellog.KindString {
		t.Fatalf("body kind = %v, want String", body.Kind())
	}
	want := "command_executed: /work/docs"
	if body.AsString() != want {
		t.Errorf("body = %q, want %q", body.AsString(), want)
	}

	if rec.Severity() != otellog.SeverityInfo {
		t.Errorf("severity = %v, want INFO", rec.Severity())
	}

	attrs := recordAttrs(rec)
	if got := attrs["safesh.session.id"]; got.AsString() != "sess-abc" {
		t.Errorf("session attr = %q, want sess-abc", got.AsString())
	}
	if got := attrs["safesh.verb"]; got.AsString() != string(types.VerbList) {
		t.Errorf("verb attr = %q, want %q", got.AsString(), types.VerbList)
	}
}

func TestConvertToLogRecord_BodyWithOutcome(t *testing.T) {
	ev := types.Event{
		Timestamp: time.Now(),
		Type:      "command_denied",
		SessionID: "s",
		Path:      "/etc/passwd",
		Policy:    &types.PolicyInfo{Outcome: types.OutcomeDeny, Rule: "path-escape"},
	}

	rec := convertToLogRecord(ev)
	want := "command_denied: /etc/passwd [deny]"
	if rec.Body().AsString() != want {
		t.Errorf("body = %q, want %q", rec.Body().AsString(), want)
	}
	if rec.Severity() != otellog.SeverityError {
		t.Errorf("severity = %v, want ERROR", rec.Severity())
	}

	attrs := recordAttrs(rec)
	if got := attrs["safesh.policy.rule"]; got.AsString() != "path-escape" {
		t.Errorf("rule attr = %q, want path-escape", got.AsString())
	}
}

func TestConvertToLogRecord_Severity(t *testing.T) {
	cases := []struct {
		name string
		ev   types.Event
		want otellog.Severity
	}{
		{"plain", types.Event{Type: "session_created"}, otellog.SeverityInfo},
		{"deny", types.Event{Type: "command_denied",
			Policy: &types.PolicyInfo{Outcome: types.OutcomeDeny}}, otellog.SeverityError},
		{"confirm", types.Event{Type: "confirm_requested",
			Policy: &types.PolicyInfo{Outcome: types.OutcomeConfirm}}, otellog.SeverityWarn},
		{"cancelled", types.Event{Type: "command_cancelled"}, otellog.SeverityWarn},
		{"failed", types.Event{Type: "command_failed"}, otellog.SeverityWarn},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := eventSeverity(tc.ev); got != tc.want {
				t.Errorf("severity = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestConvertToLogRecord_WellKnownFields(t *testing.T) {
	ev := types.Event{
		Timestamp: time.Now(),
		Type:      "nl_translated",
		SessionID: "s",
		Source:    types.SourceAI,
		Fields: map[string]any{
			"text":       "delete demo folder",
			"confidence": 0.92,
			"ignored":    "not exported",
		},
	}

	attrs := recordAttrs(convertToLogRecord(ev))
	if got := attrs["safesh.text"]; got.AsString() != "delete demo folder" {
		t.Errorf("text attr = %q", got.AsString())
	}
	if got := attrs["safesh.confidence"]; got.AsFloat64() != 0.92 {
		t.Errorf("confidence attr = %v", got.AsFloat64())
	}
	if _, ok := attrs["safesh.ignored"]; ok {
		t.Error("unexpected export of unlisted field")
	}
	if got := attrs["safesh.source"]; got.AsString() != string(types.SourceAI) {
		t.Errorf("source attr = %q", got.AsString())
	}
}
