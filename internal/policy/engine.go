// Package policy decides whether a structured command may run, must be
// confirmed first, or is forbidden outright.
//
// Decisions are produced fresh per call from the live configuration handle:
// flipping safe_mode or dry_run applies to the very next command, no restart
// involved. Nothing here touches the filesystem.
package policy

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/safesh/safesh/internal/config"
	"github.com/safesh/safesh/pkg/types"
)

// Request is one operation to classify. VirtualPath is the target's
// root-relative display path ("/" is the allowed root); empty for verbs that
// take no path.
type Request struct {
	Command     types.StructuredCommand
	VirtualPath string
}

// Engine classifies commands into allow / confirm / deny.
type Engine struct {
	cfg *config.Handle

	mu       sync.RWMutex
	ruleset  *Ruleset
	compiled []compiledRule
}

func NewEngine(cfg *config.Handle) *Engine {
	return &Engine{cfg: cfg, ruleset: &Ruleset{}}
}

// SetRuleset compiles and installs a protected-path ruleset, replacing the
// previous one.
func (e *Engine) SetRuleset(rs *Ruleset) error {
	compiled, err := compileRuleset(rs)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.ruleset = rs
	e.compiled = compiled
	e.mu.Unlock()
	return nil
}

// ReloadFromFile re-reads the ruleset file and installs it. Used both at
// startup and as the hot-reload hook.
func (e *Engine) ReloadFromFile(path string) error {
	rs, err := LoadRuleset(path)
	if err != nil {
		return err
	}
	return e.SetRuleset(rs)
}

// Ruleset returns the currently installed ruleset.
func (e *Engine) Ruleset() *Ruleset {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ruleset
}

// Evaluate classifies one command. The order is fixed: built-in protections
// first, then the installed ruleset (first match wins), then the verb tier
// under the current safety switches.
func (e *Engine) Evaluate(req Request) types.SafetyDecision {
	cfg := e.cfg.Snapshot()
	verb := req.Command.Verb
	vpath := cleanVirtual(req.VirtualPath)

	if verb == types.VerbUnknown {
		return types.SafetyDecision{
			Outcome: types.OutcomeDeny,
			Reason:  "unrecognized command cannot be executed",
			Rule:    "builtin/unknown-verb",
		}
	}

	if d, ok := e.builtinDecision(cfg, verb, vpath); ok {
		return d
	}

	if d, ok := e.rulesetDecision(verb, vpath); ok {
		return e.tighten(cfg, req, d)
	}

	return e.tierDecision(cfg, req)
}

// builtinDecision guards the pieces safesh itself depends on. These cannot
// be overridden by the ruleset file.
func (e *Engine) builtinDecision(cfg *config.Config, verb types.Verb, vpath string) (types.SafetyDecision, bool) {
	if !verb.Mutating() {
		return types.SafetyDecision{}, false
	}

	if verb == types.VerbRemove && vpath == "/" {
		return types.SafetyDecision{
			Outcome: types.OutcomeDeny,
			Reason:  "refusing to remove the allowed root",
			Rule:    "builtin/protect-root",
		}, true
	}

	if verb == types.VerbRemove || verb == types.VerbMakeDir {
		binVirtual := "/" + path.Clean(strings.TrimPrefix(cfg.Safety.RecycleBin, "/"))
		if vpath == binVirtual || strings.HasPrefix(vpath, binVirtual+"/") {
			return types.SafetyDecision{
				Outcome: types.OutcomeDeny,
				Reason:  "the recycle bin is managed through bin commands",
				Rule:    "builtin/protect-recycle-bin",
			}, true
		}
	}

	return types.SafetyDecision{}, false
}

func (e *Engine) rulesetDecision(verb types.Verb, vpath string) (types.SafetyDecision, bool) {
	if vpath == "" {
		return types.SafetyDecision{}, false
	}
	e.mu.RLock()
	compiled := e.compiled
	e.mu.RUnlock()

	for _, cr := range compiled {
		if !cr.matches(verb, vpath) {
			continue
		}
		outcome, err := cr.outcome()
		if err != nil {
			// Unreachable after SetRuleset validation.
			outcome = types.OutcomeDeny
		}
		reason := cr.rule.Message
		if reason == "" {
			reason = fmt.Sprintf("matched protected-path rule %q", cr.rule.Name)
		}
		return types.SafetyDecision{Outcome: outcome, Reason: reason, Rule: cr.rule.Name}, true
	}
	return types.SafetyDecision{}, false
}

// tighten applies the safety switches on top of a ruleset allow: an allow
// rule does not bypass dry-run simulation or the AI confirmation floor.
func (e *Engine) tighten(cfg *config.Config, req Request, d types.SafetyDecision) types.SafetyDecision {
	if d.Outcome != types.OutcomeAllow || !req.Command.Verb.Mutating() {
		return d
	}
	if cfg.Safety.DryRun {
		return types.SafetyDecision{
			Outcome:  types.OutcomeConfirm,
			Reason:   "dry-run: no changes applied",
			Rule:     d.Rule,
			Simulate: true,
		}
	}
	if floor, ok := e.aiFloor(cfg, req); ok {
		floor.Rule = d.Rule
		return floor
	}
	return d
}

func (e *Engine) tierDecision(cfg *config.Config, req Request) types.SafetyDecision {
	verb := req.Command.Verb

	if !verb.Mutating() {
		return types.SafetyDecision{
			Outcome: types.OutcomeAllow,
			Reason:  "read-only operation",
		}
	}

	if cfg.Safety.DryRun {
		return types.SafetyDecision{
			Outcome:  types.OutcomeConfirm,
			Reason:   "dry-run: no changes applied",
			Rule:     "builtin/dry-run",
			Simulate: true,
		}
	}

	if verb == types.VerbRemove && cfg.Safety.SafeModeEnabled() {
		return types.SafetyDecision{
			Outcome: types.OutcomeConfirm,
			Reason:  "safe mode: removal needs confirmation (target goes to the recycle bin)",
			Rule:    "builtin/safe-mode",
		}
	}

	if floor, ok := e.aiFloor(cfg, req); ok {
		return floor
	}

	return types.SafetyDecision{Outcome: types.OutcomeAllow}
}

// aiFloor raises AI-suggested mutations to at least a confirmation. Rule
// matching and natural-language translation never auto-execute a change.
func (e *Engine) aiFloor(cfg *config.Config, req Request) (types.SafetyDecision, bool) {
	if req.Command.Source != types.SourceAI || !cfg.AI.ConfirmationForced() {
		return types.SafetyDecision{}, false
	}
	return types.SafetyDecision{
		Outcome: types.OutcomeConfirm,
		Reason:  "ai-suggested change needs confirmation",
		Rule:    "builtin/ai-confirmation",
	}, true
}

func cleanVirtual(p string) string {
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
