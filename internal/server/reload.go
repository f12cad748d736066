package server

import (
	"context"

	"github.com/safesh/safesh/internal/config"
	"github.com/safesh/safesh/internal/events"
	"github.com/safesh/safesh/internal/policy"
	"github.com/safesh/safesh/pkg/hotreload"
)

// buildWatcher registers the config file and the protected-paths ruleset
// for hot reload. Returns nil when neither is given.
func buildWatcher(s *Server, configPath, rulesPath string) *hotreload.Watcher {
	if configPath == "" && rulesPath == "" {
		return nil
	}
	w := hotreload.New(hotreload.Config{
		OnApply: func(path string, err error) {
			if err != nil {
				s.logger.Warn("reload failed", "path", path, "error", err)
				return
			}
			s.logger.Info("reloaded", "path", path)
		},
	})
	if configPath != "" {
		if err := w.Watch(configPath, configReloader{s}); err != nil {
			s.logger.Warn("config watch failed", "path", configPath, "error", err)
		}
	}
	if rulesPath != "" {
		if err := w.Watch(rulesPath, rulesReloader{s}); err != nil {
			s.logger.Warn("rules watch failed", "path", rulesPath, "error", err)
		}
	}
	return w
}

// configReloader re-reads the config file and swaps it into the running
// handle. A file that fails validation is rejected and the old config
// stays in force.
type configReloader struct{ s *Server }

func (r configReloader) Validate(path string) error {
	_, err := config.Load(path)
	return err
}

func (r configReloader) Apply(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	r.s.handle.Swap(cfg)

	ev := events.New(events.EventConfigReloaded, "")
	ev.Fields = map[string]any{
		"path":      path,
		"safe_mode": cfg.Safety.SafeModeEnabled(),
		"dry_run":   cfg.Safety.DryRun,
	}
	r.s.recorder.Emit(context.Background(), ev)
	return nil
}

// rulesReloader re-reads the protected-paths ruleset into the policy
// engine.
type rulesReloader struct{ s *Server }

func (r rulesReloader) Validate(path string) error {
	_, err := policy.LoadRuleset(path)
	return err
}

func (r rulesReloader) Apply(path string) error {
	if err := r.s.engine.ReloadFromFile(path); err != nil {
		return err
	}
	rules := 0
	if rs := r.s.engine.Ruleset(); rs != nil {
		rules = len(rs.Rules)
	}
	ev := events.New(events.EventRulesReloaded, "")
	ev.Fields = map[string]any{"path": path, "rules": rules}
	r.s.recorder.Emit(context.Background(), ev)
	return nil
}
