package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromBytes_Defaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(""))
	require.NoError(t, err)

	assert.True(t, cfg.Safety.SafeModeEnabled())
	assert.Equal(t, ".", cfg.Safety.AllowedRoot)
	assert.False(t, cfg.Safety.DryRun)
	assert.Equal(t, ".safesh/bin", cfg.Safety.RecycleBin)
	assert.Equal(t, "tty", cfg.Safety.ConfirmMode)

	assert.False(t, cfg.AI.Enabled)
	assert.True(t, cfg.AI.ConfirmationForced())
	assert.Equal(t, 30, cfg.AI.RateLimitPerWindow)
	assert.Equal(t, 60, cfg.AI.RateLimitWindowSeconds)
	assert.InDelta(t, 0.6, cfg.AI.ConfidenceThreshold, 1e-9)

	assert.Equal(t, "127.0.0.1:8375", cfg.Server.HTTP.Addr)
	assert.True(t, cfg.Audit.EnabledOrDefault())
}

func TestLoadFromBytes_ExplicitFalseSurvivesDefaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
safety:
  safe_mode: false
ai:
  confirmation_required: false
audit:
  enabled: false
`))
	require.NoError(t, err)

	assert.False(t, cfg.Safety.SafeModeEnabled())
	assert.False(t, cfg.AI.ConfirmationForced())
	assert.False(t, cfg.Audit.EnabledOrDefault())
}

func TestLoadFromBytes_FullDocument(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
safety:
  allowed_root: /srv/sandbox
  dry_run: true
  recycle_bin: .bin
  confirm_mode: api
  confirm_timeout: 30s
ai:
  enabled: true
  provider: gemini
  rate_limit_per_window: 5
  rate_limit_window_seconds: 10
  confidence_threshold: 0.8
server:
  http:
    addr: 127.0.0.1:9000
audit:
  storage:
    sqlite_path: /tmp/events.db
  otel:
    enabled: true
    endpoint: localhost:4317
    protocol: grpc
`))
	require.NoError(t, err)

	assert.Equal(t, "/srv/sandbox", cfg.Safety.AllowedRoot)
	assert.True(t, cfg.Safety.DryRun)
	assert.Equal(t, "api", cfg.Safety.ConfirmMode)
	assert.True(t, cfg.AI.Enabled)
	assert.Equal(t, 5, cfg.AI.RateLimitPerWindow)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.HTTP.Addr)
	assert.True(t, cfg.Audit.OTEL.Enabled)
}

func TestLoadFromBytes_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad confirm mode", "safety:\n  confirm_mode: carrier-pigeon\n"},
		{"bad confirm timeout", "safety:\n  confirm_timeout: soon\n"},
		{"threshold above one", "ai:\n  confidence_threshold: 1.5\n"},
		{"threshold below zero", "ai:\n  confidence_threshold: -0.1\n"},
		{"absolute recycle bin", "safety:\n  recycle_bin: /var/trash\n"},
		{"bad otel protocol", "audit:\n  otel:\n    protocol: carrier-pigeon\n"},
		{"not yaml", "safety: [broken\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ".", cfg.Safety.AllowedRoot)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SAFESH_ROOT", "/srv/box")
	t.Setenv("SAFESH_SAFE_MODE", "false")
	t.Setenv("SAFESH_AI_ENABLED", "true")
	t.Setenv("SAFESH_DATA_DIR", "/var/lib/safesh")

	path := filepath.Join(t.TempDir(), "safesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("safety:\n  allowed_root: /ignored\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/box", cfg.Safety.AllowedRoot)
	assert.False(t, cfg.Safety.SafeModeEnabled())
	assert.True(t, cfg.AI.Enabled)
	assert.Equal(t, filepath.Join("/var/lib/safesh", "events.db"), cfg.Audit.Storage.SQLitePath)
}

func TestHandle_SwapVisibility(t *testing.T) {
	base, err := LoadFromBytes(nil)
	require.NoError(t, err)

	h := NewHandle(base)
	before := h.Snapshot()
	assert.True(t, before.Safety.SafeModeEnabled())

	h.Update(func(c *Config) {
		f := false
		c.Safety.SafeMode = &f
	})

	assert.False(t, h.Snapshot().Safety.SafeModeEnabled())
	// The earlier snapshot is untouched.
	assert.True(t, before.Safety.SafeModeEnabled())
}

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"4096", 4096},
		{"1KB", 1000},
		{"1KiB", 1024},
		{"2MB", 2_000_000},
		{"2MiB", 2 << 20},
		{"1GB", 1_000_000_000},
		{"1_000_000", 1_000_000},
		{" 64 KiB ", 64 << 10},
		{"512B", 512},
	}
	for _, tc := range cases {
		got, err := ParseByteSize(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", "B", "-1", "lots", "10TB x", "9999999999999999999GB"} {
		_, err := ParseByteSize(bad)
		assert.Error(t, err, bad)
	}
}
