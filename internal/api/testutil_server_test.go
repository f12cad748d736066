package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/safesh/safesh/internal/config"
	"github.com/safesh/safesh/internal/confirm"
	"github.com/safesh/safesh/internal/events"
	"github.com/safesh/safesh/internal/executor"
	"github.com/safesh/safesh/internal/monitor"
	"github.com/safesh/safesh/internal/nl"
	"github.com/safesh/safesh/internal/pathresolve"
	"github.com/safesh/safesh/internal/policy"
	"github.com/safesh/safesh/internal/recyclebin"
	"github.com/safesh/safesh/internal/session"
	"github.com/safesh/safesh/internal/store/sqlite"
	"github.com/safesh/safesh/pkg/types"
)

// testApp wires the real stack behind the router: sqlite for events and
// output, the actual policy engine and recycle bin, no stubs. Tests drive
// it through HTTP the way clients do.
type testApp struct {
	app    *App
	router http.Handler

	root     string
	handle   *config.Handle
	sessions *session.Manager
	confirms *confirm.Manager
	bin      *recyclebin.Store
	broker   *events.Broker
	store    *sqlite.Store
}

func newTestApp(t *testing.T, yaml string) *testApp {
	t.Helper()

	root := t.TempDir()
	res, err := pathresolve.New(root)
	require.NoError(t, err)

	cfg, err := config.LoadFromBytes([]byte(yaml))
	require.NoError(t, err)
	handle := config.NewHandle(cfg)

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broker := events.NewBroker()
	emitter := events.NewRecorder(broker, st, logger)

	bin, err := recyclebin.Open(filepath.Join(root, ".safesh", "bin"))
	require.NoError(t, err)

	sessions := session.NewManager(res, 10, 100)
	confirms := confirm.New(types.ConfirmModeAPI, 5*time.Second, emitter)

	exec := executor.New(executor.Options{
		Resolver: res,
		Policy:   policy.NewEngine(handle),
		Bin:      bin,
		Monitor:  monitor.New(root),
		Emitter:  emitter,
		Outputs:  st,
		Logger:   logger,
	})

	app := NewApp(Options{
		Config:   handle,
		Sessions: sessions,
		Executor: exec,
		NL:       nl.NewDispatcher(handle, nil, logger),
		Confirms: confirms,
		Bin:      bin,
		Resolver: res,
		Monitor:  monitor.New(root),
		Events:   st,
		Outputs:  st,
		Broker:   broker,
		Emitter:  emitter,
		Logger:   logger,
	})
	return &testApp{
		app:      app,
		router:   app.Router(),
		root:     root,
		handle:   handle,
		sessions: sessions,
		confirms: confirms,
		bin:      bin,
		broker:   broker,
		store:    st,
	}
}

// do runs one request through the router. A non-nil body is sent as JSON.
func (ta *testApp) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ta.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), "body: %s", rec.Body.String())
}

func (ta *testApp) createSession(t *testing.T) string {
	t.Helper()
	rec := ta.do(t, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	var s types.Session
	decodeBody(t, rec, &s)
	require.NotEmpty(t, s.ID)
	return s.ID
}

// execCommand posts a structured command and returns the decoded result.
func (ta *testApp) execCommand(t *testing.T, sessionID string, cmd types.StructuredCommand) (int, types.ExecutionResult) {
	t.Helper()
	rec := ta.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/exec", types.ExecRequest{Command: cmd})
	var res types.ExecutionResult
	decodeBody(t, rec, &res)
	return rec.Code, res
}

func direct(verb types.Verb, args ...string) types.StructuredCommand {
	return types.StructuredCommand{Verb: verb, Args: args, Source: types.SourceDirect}
}

// newServerOrSkip starts the app on a real loopback listener for websocket
// and streaming tests. Sandboxed environments that forbid listening skip.
func newServerOrSkip(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("cannot listen on loopback: %v", err)
		}
		t.Fatalf("listen: %v", err)
	}
	srv := httptest.NewUnstartedServer(h)
	srv.Listener.Close()
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}
