// Package api is the HTTP surface: session CRUD, command execution,
// natural-language interpretation, confirmation resolution, recycle bin
// management, the audit event query/stream endpoints and the websocket
// shell bridge. Everything rides one chi router.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/safesh/safesh/internal/config"
	"github.com/safesh/safesh/internal/confirm"
	"github.com/safesh/safesh/internal/events"
	"github.com/safesh/safesh/internal/executor"
	"github.com/safesh/safesh/internal/monitor"
	"github.com/safesh/safesh/internal/nl"
	"github.com/safesh/safesh/internal/pathresolve"
	"github.com/safesh/safesh/internal/recyclebin"
	"github.com/safesh/safesh/internal/session"
	"github.com/safesh/safesh/internal/store"
	"github.com/safesh/safesh/pkg/types"
)

// defaultMaxBodyBytes bounds request bodies unless configured otherwise.
const defaultMaxBodyBytes = 1 << 20

type App struct {
	cfg      *config.Handle
	sessions *session.Manager
	exec     *executor.Executor
	nl       *nl.Dispatcher
	confirms *confirm.Manager
	bin      *recyclebin.Store
	resolver *pathresolve.Resolver
	mon      *monitor.Monitor
	events   store.EventStore
	outputs  store.OutputStore
	broker   *events.Broker
	emitter  events.Emitter
	logger   *slog.Logger

	// metricsHandler, when set, is mounted at the configured metrics path.
	metricsHandler http.Handler

	maxBodyBytes int64
}

type Options struct {
	Config   *config.Handle
	Sessions *session.Manager
	Executor *executor.Executor
	NL       *nl.Dispatcher
	Confirms *confirm.Manager
	Bin      *recyclebin.Store
	Resolver *pathresolve.Resolver
	Monitor  *monitor.Monitor
	Events   store.EventStore
	Outputs  store.OutputStore
	Broker   *events.Broker
	Emitter  events.Emitter
	Logger   *slog.Logger

	Metrics http.Handler

	MaxBodyBytes int64
}

func NewApp(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &App{
		cfg:            opts.Config,
		sessions:       opts.Sessions,
		exec:           opts.Executor,
		nl:             opts.NL,
		confirms:       opts.Confirms,
		bin:            opts.Bin,
		resolver:       opts.Resolver,
		mon:            opts.Monitor,
		events:         opts.Events,
		outputs:        opts.Outputs,
		broker:         opts.Broker,
		emitter:        opts.Emitter,
		logger:         logger,
		metricsHandler: opts.Metrics,
		maxBodyBytes:   maxBody,
	}
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(a.limitBody)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ready\n") })
	if a.metricsHandler != nil {
		path := "/metrics"
		if cfg := a.cfg.Snapshot(); cfg.Metrics.Path != "" {
			path = cfg.Metrics.Path
		}
		r.Get(path, a.metricsHandler.ServeHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", a.createSession)
		r.Get("/sessions", a.listSessions)
		r.Get("/sessions/{id}", a.getSession)
		r.Delete("/sessions/{id}", a.destroySession)

		r.Post("/sessions/{id}/exec", a.execInSession)
		r.Post("/sessions/{id}/interpret", a.interpretInSession)
		r.Get("/sessions/{id}/history", a.sessionHistory)
		r.Get("/sessions/{id}/events", a.streamSessionEvents)
		r.Get("/sessions/{id}/output/{cmdID}", a.getOutputChunk)
		r.Get("/sessions/{id}/ws", a.shellWS)

		r.Get("/events/search", a.searchEvents)
		r.Get("/events/stream", a.streamAllEvents)

		r.Get("/confirmations", a.listConfirmations)
		r.Post("/confirmations/{id}", a.resolveConfirmation)

		r.Get("/bin", a.listBin)
		r.Get("/bin/usage", a.binUsage)
		r.Get("/bin/{id}", a.getBinEntry)
		r.Post("/bin/{id}/restore", a.restoreBinEntry)
		r.Post("/bin/purge", a.purgeBin)

		r.Get("/monitor", a.monitorSnapshot)
	})

	return r
}

func (a *App) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, a.maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) createSession(w http.ResponseWriter, r *http.Request) {
	var req types.CreateSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
	}
	s, err := a.sessions.CreateWithID(req.ID)
	if err != nil {
		status := http.StatusBadRequest
		if err == session.ErrSessionExists {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}

	if a.emitter != nil {
		a.emitter.Emit(r.Context(), events.New(events.EventSessionCreated, s.ID))
	}
	writeJSON(w, http.StatusCreated, s.Snapshot())
}

func (a *App) listSessions(w http.ResponseWriter, r *http.Request) {
	all := a.sessions.List()
	out := make([]types.Session, 0, len(all))
	for _, s := range all {
		out = append(out, s.Snapshot())
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (a *App) destroySession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := a.sessions.Get(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
		return
	}
	a.sessions.Destroy(id)

	if a.emitter != nil {
		a.emitter.Emit(r.Context(), events.New(events.EventSessionClosed, id))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) sessionHistory(w http.ResponseWriter, r *http.Request) {
	s, ok := a.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": s.ID,
		"history":    s.History(),
	})
}

// activeSession looks up an active session or writes the error response.
func (a *App) activeSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, ok := a.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
		return nil, false
	}
	if !s.Snapshot().State.IsActive() {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "session is closed"})
		return nil, false
	}
	return s, true
}

func parseEventQuery(r *http.Request) (types.EventQuery, error) {
	v := r.URL.Query()
	var q types.EventQuery
	q.SessionID = v.Get("session_id")
	q.CommandID = v.Get("command_id")
	if t := v.Get("type"); t != "" {
		q.Types = strings.Split(t, ",")
	}
	if o := v.Get("outcome"); o != "" {
		oc := types.Outcome(o)
		q.Outcome = &oc
	}
	q.PathLike = v.Get("path_like")
	q.TextLike = v.Get("text_like")
	q.Limit, _ = strconv.Atoi(v.Get("limit"))
	q.Offset, _ = strconv.Atoi(v.Get("offset"))
	q.Asc = v.Get("order") == "asc"

	if since := v.Get("since"); since != "" {
		t, err := parseTimeOrAgo(since)
		if err != nil {
			return q, fmt.Errorf("since: %w", err)
		}
		q.Since = &t
	}
	if until := v.Get("until"); until != "" {
		t, err := parseTimeOrAgo(until)
		if err != nil {
			return q, fmt.Errorf("until: %w", err)
		}
		q.Until = &t
	}
	return q, nil
}

// parseTimeOrAgo accepts RFC3339 timestamps or relative durations like
// "30m", meaning that long ago.
func parseTimeOrAgo(s string) (time.Time, error) {
	if strings.ContainsAny(s, "smhdw") && !strings.Contains(s, "T") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return time.Time{}, err
		}
		return time.Now().UTC().Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}
