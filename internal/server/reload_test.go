package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safesh/safesh/internal/config"
	"github.com/safesh/safesh/internal/events"
	"github.com/safesh/safesh/internal/policy"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConfigReloaderSwapsHandle(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(""))
	require.NoError(t, err)
	handle := config.NewHandle(cfg)
	require.True(t, handle.Snapshot().Safety.SafeModeEnabled())

	sink := &memSink{}
	s := &Server{
		handle:   handle,
		recorder: events.NewRecorder(nil, sink, testLogger()),
		logger:   testLogger(),
	}
	r := configReloader{s}

	path := writeTemp(t, "safesh.yaml", "safety:\n  safe_mode: false\n  dry_run: true\n")
	require.NoError(t, r.Validate(path))
	require.NoError(t, r.Apply(path))

	snap := handle.Snapshot()
	assert.False(t, snap.Safety.SafeModeEnabled())
	assert.True(t, snap.Safety.DryRun)

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, "config_reloaded", ev.Type)
	assert.Equal(t, path, ev.Fields["path"])
	assert.Equal(t, false, ev.Fields["safe_mode"])
	assert.Equal(t, true, ev.Fields["dry_run"])
}

func TestConfigReloaderRejectsBrokenFile(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(""))
	require.NoError(t, err)
	handle := config.NewHandle(cfg)
	s := &Server{
		handle:   handle,
		recorder: events.NewRecorder(nil, &memSink{}, testLogger()),
		logger:   testLogger(),
	}
	r := configReloader{s}

	path := writeTemp(t, "safesh.yaml", "safety: [not, a, mapping]\n")
	require.Error(t, r.Validate(path))

	// The running config is untouched.
	assert.True(t, handle.Snapshot().Safety.SafeModeEnabled())
}

func TestConfigReloaderRejectsInvalidValues(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(""))
	require.NoError(t, err)
	s := &Server{
		handle:   config.NewHandle(cfg),
		recorder: events.NewRecorder(nil, &memSink{}, testLogger()),
		logger:   testLogger(),
	}
	r := configReloader{s}

	path := writeTemp(t, "safesh.yaml", "safety:\n  confirm_mode: maybe\n")
	assert.Error(t, r.Validate(path))
}

func TestRulesReloaderLoadsRules(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(""))
	require.NoError(t, err)
	handle := config.NewHandle(cfg)

	sink := &memSink{}
	s := &Server{
		engine:   policy.NewEngine(handle),
		recorder: events.NewRecorder(nil, sink, testLogger()),
		logger:   testLogger(),
	}
	r := rulesReloader{s}

	path := writeTemp(t, "protected.yaml",
		"version: 1\nname: workspace\nrules:\n"+
			"  - name: no-secrets\n    paths: [\"/secrets/**\"]\n    verbs: [\"rm\"]\n    decision: deny\n"+
			"  - name: ask-configs\n    paths: [\"/*.yaml\"]\n    decision: confirm\n")
	require.NoError(t, r.Validate(path))
	require.NoError(t, r.Apply(path))

	rs := s.engine.Ruleset()
	require.NotNil(t, rs)
	assert.Len(t, rs.Rules, 2)

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, "rules_reloaded", ev.Type)
	assert.Equal(t, path, ev.Fields["path"])
	assert.Equal(t, 2, ev.Fields["rules"])
}

func TestRulesReloaderRejectsBadDecision(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(""))
	require.NoError(t, err)
	s := &Server{
		engine:   policy.NewEngine(config.NewHandle(cfg)),
		recorder: events.NewRecorder(nil, &memSink{}, testLogger()),
		logger:   testLogger(),
	}
	r := rulesReloader{s}

	path := writeTemp(t, "protected.yaml",
		"rules:\n  - name: broken\n    paths: [\"/x\"]\n    decision: shrug\n")
	assert.Error(t, r.Validate(path))
}

func TestBuildWatcherNilWhenNothingToWatch(t *testing.T) {
	s := &Server{logger: testLogger()}
	assert.Nil(t, buildWatcher(s, "", ""))
}

func TestBuildWatcherCoversBothFiles(t *testing.T) {
	cfgPath := writeTemp(t, "safesh.yaml", "")
	rulesPath := writeTemp(t, "protected.yaml", "")
	s := &Server{
		handle:   config.NewHandle(&config.Config{}),
		engine:   policy.NewEngine(config.NewHandle(&config.Config{})),
		recorder: events.NewRecorder(nil, &memSink{}, testLogger()),
		logger:   testLogger(),
	}

	w := buildWatcher(s, cfgPath, rulesPath)
	require.NotNil(t, w)
	t.Cleanup(func() { _ = w.Stop() })
}
