// Package server assembles the full stack behind one HTTP listener: path
// resolver, policy engine, recycle bin, audit stores, confirmation manager,
// translation chain and executor, wired into the REST/websocket surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/safesh/safesh/internal/ai"
	"github.com/safesh/safesh/internal/api"
	"github.com/safesh/safesh/internal/audit"
	"github.com/safesh/safesh/internal/config"
	"github.com/safesh/safesh/internal/confirm"
	"github.com/safesh/safesh/internal/events"
	"github.com/safesh/safesh/internal/executor"
	"github.com/safesh/safesh/internal/metrics"
	"github.com/safesh/safesh/internal/monitor"
	"github.com/safesh/safesh/internal/nl"
	"github.com/safesh/safesh/internal/pathresolve"
	"github.com/safesh/safesh/internal/policy"
	"github.com/safesh/safesh/internal/recyclebin"
	"github.com/safesh/safesh/internal/session"
	storepkg "github.com/safesh/safesh/internal/store"
	"github.com/safesh/safesh/internal/store/composite"
	"github.com/safesh/safesh/internal/store/jsonl"
	"github.com/safesh/safesh/internal/store/otel"
	"github.com/safesh/safesh/internal/store/sqlite"
	"github.com/safesh/safesh/internal/store/webhook"
	"github.com/safesh/safesh/pkg/hotreload"
	"github.com/safesh/safesh/pkg/ratelimit"
	"github.com/safesh/safesh/pkg/types"
)

// Options carries the pieces only the caller knows.
type Options struct {
	// Logger receives server and component logs. Defaults to slog.Default().
	Logger *slog.Logger
	// ConfigPath, when set, is watched so edits apply without a restart.
	ConfigPath string
}

type Server struct {
	httpServer *http.Server
	httpLn     net.Listener

	handle   *config.Handle
	store    *composite.Store
	broker   *events.Broker
	recorder *events.Recorder
	sessions *session.Manager
	confirms *confirm.Manager
	engine   *policy.Engine
	bin      *recyclebin.Store
	watcher  *hotreload.Watcher
	logger   *slog.Logger

	sessionTimeout time.Duration
	idleTimeout    time.Duration
	reapInterval   time.Duration
}

// New builds the server but does not serve; Run does that. The listener is
// opened here so the caller learns about a taken port immediately.
func New(cfg *config.Config, opts Options) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	handle := config.NewHandle(cfg)

	root, err := filepath.Abs(cfg.Safety.AllowedRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve allowed root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create allowed root: %w", err)
	}
	res, err := pathresolve.New(root)
	if err != nil {
		return nil, err
	}

	collector := metrics.New()

	st, err := buildStores(cfg, root, collector)
	if err != nil {
		return nil, err
	}

	broker := events.NewBroker()
	recorder := events.NewRecorder(broker, st, logger)

	binDir := cfg.Safety.RecycleBin
	if !filepath.IsAbs(binDir) {
		binDir = filepath.Join(root, binDir)
	}
	bin, err := recyclebin.Open(binDir)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	engine := policy.NewEngine(handle)
	if cfg.Policy.ProtectedPaths != "" {
		if err := engine.ReloadFromFile(cfg.Policy.ProtectedPaths); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("load protected paths: %w", err)
		}
	}

	translator := buildTranslator(handle, cfg, collector, logger)
	dispatcher := nl.NewDispatcher(handle, translator, logger)

	confirmTimeout, err := time.ParseDuration(cfg.Safety.ConfirmTimeout)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("parse safety.confirm_timeout: %w", err)
	}
	confirms := confirm.New(types.ConfirmMode(cfg.Safety.ConfirmMode), confirmTimeout, recorder)

	sessions := session.NewManager(res, cfg.Sessions.MaxSessions, cfg.Sessions.History)
	mon := monitor.New(root)

	exec := executor.New(executor.Options{
		Resolver: res,
		Policy:   engine,
		Bin:      bin,
		Monitor:  mon,
		Emitter:  recorder,
		Outputs:  st,
		Logger:   logger,
	})

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = collector.Handler(metrics.HandlerOptions{
			SessionCount: sessions.Count,
			BinEntryCount: func() int {
				entries, err := bin.List()
				if err != nil {
					return 0
				}
				return len(entries)
			},
			BrokerDropped: broker.DroppedCount,
		})
	}

	maxBody, err := config.ParseByteSize(cfg.Server.HTTP.MaxRequestSize)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("parse server.http.max_request_size: %w", err)
	}
	readTimeout, err := time.ParseDuration(cfg.Server.HTTP.ReadTimeout)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("parse server.http.read_timeout: %w", err)
	}
	writeTimeout, err := time.ParseDuration(cfg.Server.HTTP.WriteTimeout)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("parse server.http.write_timeout: %w", err)
	}

	app := api.NewApp(api.Options{
		Config:       handle,
		Sessions:     sessions,
		Executor:     exec,
		NL:           dispatcher,
		Confirms:     confirms,
		Bin:          bin,
		Resolver:     res,
		Monitor:      mon,
		Events:       st,
		Outputs:      st,
		Broker:       broker,
		Emitter:      recorder,
		Logger:       logger,
		Metrics:      metricsHandler,
		MaxBodyBytes: maxBody,
	})

	srv := &Server{
		httpServer: &http.Server{
			Addr:              cfg.Server.HTTP.Addr,
			Handler:           app.Router(),
			ReadHeaderTimeout: 15 * time.Second,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
		},
		handle:   handle,
		store:    st,
		broker:   broker,
		recorder: recorder,
		sessions: sessions,
		confirms: confirms,
		engine:   engine,
		bin:      bin,
		logger:   logger,
	}

	if err := srv.parseSessionTimeouts(cfg); err != nil {
		_ = st.Close()
		return nil, err
	}

	srv.watcher = buildWatcher(srv, opts.ConfigPath, cfg.Policy.ProtectedPaths)

	ln, err := listenHTTP(cfg.Server.HTTP.Addr)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	srv.httpLn = ln

	return srv, nil
}

// buildStores opens the sqlite primary plus any configured mirrors and
// stacks integrity and metrics wrapping on the primary.
func buildStores(cfg *config.Config, root string, collector *metrics.Collector) (*composite.Store, error) {
	sqlitePath := cfg.Audit.Storage.SQLitePath
	if sqlitePath == "" {
		sqlitePath = filepath.Join(root, ".safesh", "audit.db")
	}
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	db, err := sqlite.Open(sqlitePath)
	if err != nil {
		return nil, err
	}

	var mirrors []storepkg.EventStore
	if cfg.Audit.EnabledOrDefault() {
		if cfg.Audit.Output != "" {
			js, err := jsonl.New(cfg.Audit.Output, cfg.Audit.Rotation.MaxSizeMB, cfg.Audit.Rotation.MaxBackups)
			if err != nil {
				_ = db.Close()
				return nil, err
			}
			mirrors = append(mirrors, js)
		}
		if cfg.Audit.Webhook.URL != "" {
			flushEvery, err := time.ParseDuration(cfg.Audit.Webhook.FlushInterval)
			if err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("parse audit.webhook.flush_interval: %w", err)
			}
			timeout, err := time.ParseDuration(cfg.Audit.Webhook.Timeout)
			if err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("parse audit.webhook.timeout: %w", err)
			}
			wh, err := webhook.New(cfg.Audit.Webhook.URL, cfg.Audit.Webhook.BatchSize, flushEvery, timeout, cfg.Audit.Webhook.Headers)
			if err != nil {
				_ = db.Close()
				return nil, err
			}
			mirrors = append(mirrors, wh)
		}
		if cfg.Audit.OTEL.Enabled {
			ot, err := buildOTELStore(cfg)
			if err != nil {
				_ = db.Close()
				return nil, err
			}
			mirrors = append(mirrors, ot)
		}
	}

	var primary storepkg.EventStore = db
	if cfg.Audit.EnabledOrDefault() && cfg.Audit.Integrity.Enabled {
		key, err := integrityKey(cfg)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		statePath := cfg.Audit.Integrity.StateFile
		if statePath == "" {
			statePath = sqlitePath + ".chain"
		}
		chain, err := audit.NewChain(key, cfg.Audit.Integrity.Algorithm, statePath)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("open integrity chain: %w", err)
		}
		primary = storepkg.NewChainedStore(db, chain)
	}
	// Metrics wrap the primary so each event is counted exactly once.
	primary = metrics.WrapEventStore(primary, collector)

	return composite.New(primary, db, mirrors...), nil
}

func buildOTELStore(cfg *config.Config) (storepkg.EventStore, error) {
	timeout, err := parseOptionalDuration(cfg.Audit.OTEL.Timeout)
	if err != nil {
		return nil, fmt.Errorf("parse audit.otel.timeout: %w", err)
	}
	batchTimeout, err := parseOptionalDuration(cfg.Audit.OTEL.BatchTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse audit.otel.batch_timeout: %w", err)
	}
	return otel.New(context.Background(), otel.Config{
		Endpoint:     cfg.Audit.OTEL.Endpoint,
		Protocol:     cfg.Audit.OTEL.Protocol,
		TLSEnabled:   cfg.Audit.OTEL.TLSEnabled,
		TLSCertFile:  cfg.Audit.OTEL.TLSCertFile,
		TLSKeyFile:   cfg.Audit.OTEL.TLSKeyFile,
		TLSInsecure:  cfg.Audit.OTEL.TLSInsecure,
		Headers:      cfg.Audit.OTEL.Headers,
		Timeout:      timeout,
		BatchTimeout: batchTimeout,
		BatchMaxSize: cfg.Audit.OTEL.BatchMaxSize,
	})
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// integrityKey loads the HMAC key from the configured file or environment
// variable, file first.
func integrityKey(cfg *config.Config) ([]byte, error) {
	if f := cfg.Audit.Integrity.KeyFile; f != "" {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read audit.integrity.key_file: %w", err)
		}
		key := []byte(strings.TrimSpace(string(b)))
		if len(key) == 0 {
			return nil, fmt.Errorf("audit.integrity.key_file %s is empty", f)
		}
		return key, nil
	}
	if e := cfg.Audit.Integrity.KeyEnv; e != "" {
		if v := os.Getenv(e); v != "" {
			return []byte(v), nil
		}
		return nil, fmt.Errorf("audit.integrity.key_env %s is not set", e)
	}
	return nil, fmt.Errorf("audit.integrity enabled but no key_file or key_env given")
}

// buildTranslator assembles the AI chain: provider, rate limiter, metrics.
// Returns nil when AI is disabled; the dispatcher then uses rules alone.
func buildTranslator(handle *config.Handle, cfg *config.Config, collector *metrics.Collector, logger *slog.Logger) ai.Translator {
	if !cfg.AI.Enabled {
		return nil
	}
	gemini := ai.NewGemini(cfg.AI, logger)
	window := ratelimit.NewWindow(cfg.AI.RateLimitPerWindow, cfg.AI.Window())
	return meteredTranslator{
		inner:     ai.NewLimited(gemini, window, handle, logger),
		collector: collector,
	}
}

// meteredTranslator counts limiter refusals and service failures without
// the AI packages knowing about metrics.
type meteredTranslator struct {
	inner     ai.Translator
	collector *metrics.Collector
}

func (m meteredTranslator) Name() string { return m.inner.Name() }

func (m meteredTranslator) Translate(ctx context.Context, req ai.Request) (types.TranslationResult, error) {
	res, err := m.inner.Translate(ctx, req)
	switch {
	case errors.Is(err, ai.ErrQuotaExceeded):
		m.collector.IncAIQuotaDenied()
	case err != nil:
		m.collector.IncAIServiceError()
	}
	return res, err
}

func (s *Server) parseSessionTimeouts(cfg *config.Config) error {
	if v := cfg.Sessions.DefaultTimeout; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse sessions.default_timeout: %w", err)
		}
		s.sessionTimeout = d
	}
	if v := cfg.Sessions.DefaultIdleTimeout; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse sessions.default_idle_timeout: %w", err)
		}
		s.idleTimeout = d
	}
	s.reapInterval = time.Minute
	if v := cfg.Sessions.CleanupInterval; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse sessions.cleanup_interval: %w", err)
		}
		if d > 0 {
			s.reapInterval = d
		}
	}
	return nil
}

// listenHTTP refuses non-loopback binds: there is no authentication layer,
// so exposure beyond the local host hands the filesystem to the network.
func listenHTTP(addr string) (net.Listener, error) {
	if !isLoopbackAddr(addr) {
		return nil, fmt.Errorf("refusing to listen on %q: no authentication; bind 127.0.0.1 or localhost", addr)
	}
	return net.Listen("tcp", addr)
}

func isLoopbackAddr(addr string) bool {
	a := strings.TrimSpace(addr)
	if a == "" || strings.HasPrefix(a, ":") {
		// ":8375" binds every interface.
		return false
	}
	host, _, err := net.SplitHostPort(a)
	if err != nil {
		host = a
	}
	if strings.EqualFold(strings.TrimSpace(host), "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	// Unknown hostnames could resolve anywhere.
	return false
}

// Addr returns the bound listen address, useful when the port was 0.
func (s *Server) Addr() string {
	if s == nil || s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

// Run serves until the context ends or a signal arrives, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			s.logger.Warn("hot reload disabled", "error", err)
		} else {
			defer func() { _ = s.watcher.Stop() }()
		}
	}

	if s.sessionTimeout > 0 || s.idleTimeout > 0 {
		ticker := time.NewTicker(s.reapInterval)
		defer ticker.Stop()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.reapOnce(time.Now().UTC())
				}
			}
		}()
	}

	s.logger.Info("serving", "addr", s.Addr())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
}

// Close releases the listener and the stores. Safe after a failed Run.
func (s *Server) Close() error {
	if s.httpLn != nil {
		_ = s.httpLn.Close()
		s.httpLn = nil
	}
	if s.watcher != nil {
		_ = s.watcher.Stop()
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// reapOnce expires sessions past their limits and records why.
func (s *Server) reapOnce(now time.Time) {
	for _, sess := range s.sessions.ReapExpired(now, s.sessionTimeout, s.idleTimeout) {
		snap := sess.Snapshot()
		expiredBy := "unknown"
		switch {
		case s.sessionTimeout > 0 && now.Sub(snap.CreatedAt) > s.sessionTimeout:
			expiredBy = "session_timeout"
		case s.idleTimeout > 0 && now.Sub(snap.LastActivity) > s.idleTimeout:
			expiredBy = "idle_timeout"
		}
		ev := events.New(events.EventSessionExpired, sess.ID)
		ev.Fields = map[string]any{
			"expired_by":      expiredBy,
			"session_timeout": s.sessionTimeout.String(),
			"idle_timeout":    s.idleTimeout.String(),
		}
		s.recorder.Emit(context.Background(), ev)
	}
}
