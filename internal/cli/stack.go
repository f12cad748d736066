package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/safesh/safesh/internal/ai"
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
	"github.com/safesh/safesh/pkg/observability"
	"github.com/safesh/safesh/pkg/ratelimit"
	"github.com/safesh/safesh/pkg/types"
)

// localStack is the in-process assembly behind the interactive commands
// (shell, exec, ask). It is the server's wiring minus the HTTP surface:
// the sqlite audit store is kept so local commands leave the same trail,
// the mirrors (jsonl, webhook, otel) belong to the long-running server.
type localStack struct {
	handle     *config.Handle
	resolver   *pathresolve.Resolver
	engine     *policy.Engine
	bin        *recyclebin.Store
	mon        *monitor.Monitor
	db         *sqlite.Store
	recorder   *events.Recorder
	sessions   *session.Manager
	confirms   *confirm.Manager
	dispatcher *nl.Dispatcher
	exec       *executor.Executor
	logger     *slog.Logger
}

func buildLocalStack(cfg *config.Config, logger *slog.Logger) (*localStack, error) {
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
	recorder := events.NewRecorder(nil, db, logger)

	binDir := cfg.Safety.RecycleBin
	if !filepath.IsAbs(binDir) {
		binDir = filepath.Join(root, binDir)
	}
	bin, err := recyclebin.Open(binDir)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	engine := policy.NewEngine(handle)
	if cfg.Policy.ProtectedPaths != "" {
		if err := engine.ReloadFromFile(cfg.Policy.ProtectedPaths); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("load protected paths: %w", err)
		}
	}

	var translator ai.Translator
	if cfg.AI.Enabled {
		gemini := ai.NewGemini(cfg.AI, logger)
		window := ratelimit.NewWindow(cfg.AI.RateLimitPerWindow, cfg.AI.Window())
		translator = ai.NewLimited(gemini, window, handle, logger)
	}
	dispatcher := nl.NewDispatcher(handle, translator, logger)

	// Interactive commands confirm on the controlling terminal; the
	// api-mode broker only makes sense behind the server.
	confirms := confirm.New(types.ConfirmModeTTY, 0, recorder)

	sessions := session.NewManager(res, cfg.Sessions.MaxSessions, cfg.Sessions.History)
	mon := monitor.New(root)

	exec := executor.New(executor.Options{
		Resolver: res,
		Policy:   engine,
		Bin:      bin,
		Monitor:  mon,
		Emitter:  recorder,
		Outputs:  db,
		Logger:   logger,
	})

	return &localStack{
		handle:     handle,
		resolver:   res,
		engine:     engine,
		bin:        bin,
		mon:        mon,
		db:         db,
		recorder:   recorder,
		sessions:   sessions,
		confirms:   confirms,
		dispatcher: dispatcher,
		exec:       exec,
		logger:     logger,
	}, nil
}

func (s *localStack) Close() error {
	return s.db.Close()
}

// quietLogger builds the logger for interactive commands. Logs stay off
// stdout so they never interleave with what the user asked to see.
func quietLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	out := cfg.Logging.Output
	if out == "" || out == "stdout" {
		out = "stderr"
	}
	logger, closer, err := observability.NewLogger(observability.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: out,
	})
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = closer.Close() }, nil
}

// openBin opens the recycle bin named by the config, creating nothing
// beyond the quarantine directory itself.
func openBin(cfg *config.Config) (*recyclebin.Store, error) {
	root, err := filepath.Abs(cfg.Safety.AllowedRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve allowed root: %w", err)
	}
	binDir := cfg.Safety.RecycleBin
	if !filepath.IsAbs(binDir) {
		binDir = filepath.Join(root, binDir)
	}
	return recyclebin.Open(binDir)
}

func formatAge(t time.Time) string {
	return time.Since(t).Round(time.Second).String() + " ago"
}
