package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safesh/safesh/internal/config"
	"github.com/safesh/safesh/internal/events"
	"github.com/safesh/safesh/internal/pathresolve"
	"github.com/safesh/safesh/internal/session"
	"github.com/safesh/safesh/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memSink collects appended events for assertions.
type memSink struct {
	events []types.Event
}

func (m *memSink) AppendEvent(_ context.Context, ev types.Event) error {
	m.events = append(m.events, ev)
	return nil
}

func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	root := t.TempDir()
	yaml := fmt.Sprintf("safety:\n  allowed_root: %s\nserver:\n  http:\n    addr: 127.0.0.1:0\n%s", root, extra)
	cfg, err := config.LoadFromBytes([]byte(yaml))
	require.NoError(t, err)
	return cfg
}

// newServerOrSkip builds a full server, skipping when the sandbox forbids
// opening a listener.
func newServerOrSkip(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := New(cfg, Options{Logger: testLogger()})
	if err != nil && strings.Contains(err.Error(), "operation not permitted") {
		t.Skipf("cannot listen in this environment: %v", err)
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func TestNewRefusesNonLoopback(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Server.HTTP.Addr = "0.0.0.0:8375"

	_, err := New(cfg, Options{Logger: testLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to listen")
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:8375", true},
		{"localhost:8375", true},
		{"[::1]:8375", true},
		{"127.0.0.1:0", true},
		{":8375", false},
		{"0.0.0.0:8375", false},
		{"192.168.1.10:8375", false},
		{"example.com:80", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isLoopbackAddr(tc.addr), tc.addr)
	}
}

func TestServerServesAndShutsDown(t *testing.T) {
	cfg := testConfig(t, "")
	srv := newServerOrSkip(t, cfg)
	require.NotEmpty(t, srv.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(ctx) }()

	base := "http://" + srv.Addr()
	client := &http.Client{Timeout: 2 * time.Second}

	require.Eventually(t, func() bool {
		resp, err := client.Get(base + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	resp, err := client.Post(base+"/api/v1/sessions", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServerMountsMetricsWhenEnabled(t *testing.T) {
	cfg := testConfig(t, "metrics:\n  enabled: true\n")
	srv := newServerOrSkip(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(ctx) }()

	client := &http.Client{Timeout: 2 * time.Second}
	var body string
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + srv.Addr() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		body = string(b)
		return true
	}, 5*time.Second, 50*time.Millisecond)

	assert.Contains(t, body, "safesh_up 1")
	assert.Contains(t, body, "safesh_sessions_active")

	cancel()
	<-runErr
}

func TestNewLoadsProtectedPathRuleset(t *testing.T) {
	rules := filepath.Join(t.TempDir(), "protected.yaml")
	require.NoError(t, os.WriteFile(rules, []byte(
		"version: 1\nname: test\nrules:\n  - name: no-secrets\n    paths: [\"/secrets/**\"]\n    verbs: [\"rm\"]\n    decision: deny\n"), 0o644))

	cfg := testConfig(t, "policy:\n  protected_paths: "+rules+"\n")
	srv := newServerOrSkip(t, cfg)

	rs := srv.engine.Ruleset()
	require.NotNil(t, rs)
	require.Len(t, rs.Rules, 1)
	assert.Equal(t, "no-secrets", rs.Rules[0].Name)
}

func TestNewRejectsBadRulesetFile(t *testing.T) {
	rules := filepath.Join(t.TempDir(), "protected.yaml")
	require.NoError(t, os.WriteFile(rules, []byte("rules:\n  - name: broken\n    paths: [\"/x/**\"]\n    decision: frobnicate\n"), 0o644))

	cfg := testConfig(t, "policy:\n  protected_paths: "+rules+"\n")
	_, err := New(cfg, Options{Logger: testLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "protected paths")
}

func TestIntegrityKeySources(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "audit.key")
	require.NoError(t, os.WriteFile(keyFile, []byte("s3cret\n"), 0o600))

	cfg := &config.Config{}
	cfg.Audit.Integrity.KeyFile = keyFile
	key, err := integrityKey(cfg)
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), key)

	cfg = &config.Config{}
	cfg.Audit.Integrity.KeyEnv = "SAFESH_TEST_AUDIT_KEY"
	t.Setenv("SAFESH_TEST_AUDIT_KEY", "envkey")
	key, err = integrityKey(cfg)
	require.NoError(t, err)
	assert.Equal(t, []byte("envkey"), key)

	cfg = &config.Config{}
	_, err = integrityKey(cfg)
	assert.Error(t, err)
}

func TestParseSessionTimeouts(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(""))
	require.NoError(t, err)
	var s Server
	require.NoError(t, s.parseSessionTimeouts(cfg))
	assert.Zero(t, s.sessionTimeout)
	assert.Zero(t, s.idleTimeout)
	assert.Equal(t, time.Minute, s.reapInterval)

	cfg, err = config.LoadFromBytes([]byte(
		"sessions:\n  default_timeout: 4h\n  default_idle_timeout: 30m\n  cleanup_interval: 10s\n"))
	require.NoError(t, err)
	require.NoError(t, s.parseSessionTimeouts(cfg))
	assert.Equal(t, 4*time.Hour, s.sessionTimeout)
	assert.Equal(t, 30*time.Minute, s.idleTimeout)
	assert.Equal(t, 10*time.Second, s.reapInterval)

	cfg.Sessions.DefaultTimeout = "whenever"
	assert.Error(t, s.parseSessionTimeouts(cfg))
}

func TestReapOnceEmitsExpiry(t *testing.T) {
	res, err := pathresolve.New(t.TempDir())
	require.NoError(t, err)
	sessions := session.NewManager(res, 10, 100)
	_, err = sessions.Create()
	require.NoError(t, err)

	sink := &memSink{}
	s := &Server{
		sessions:       sessions,
		recorder:       events.NewRecorder(nil, sink, testLogger()),
		logger:         testLogger(),
		sessionTimeout: time.Hour,
	}

	s.reapOnce(time.Now().UTC().Add(2 * time.Hour))

	require.Len(t, sink.events, 1)
	assert.Equal(t, "session_expired", sink.events[0].Type)
	assert.Equal(t, "session_timeout", sink.events[0].Fields["expired_by"])
	assert.Zero(t, sessions.Count())
}

func TestBuildTranslatorDisabled(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(""))
	require.NoError(t, err)
	handle := config.NewHandle(cfg)

	assert.Nil(t, buildTranslator(handle, cfg, nil, testLogger()))
}
