package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safesh/safesh/internal/config"
	"github.com/safesh/safesh/pkg/types"
)

func newTestEngine(t *testing.T, yaml string) (*Engine, *config.Handle) {
	t.Helper()
	cfg, err := config.LoadFromBytes([]byte(yaml))
	require.NoError(t, err)
	h := config.NewHandle(cfg)
	return NewEngine(h), h
}

func cmd(verb types.Verb, source types.Source, args ...string) types.StructuredCommand {
	return types.StructuredCommand{Verb: verb, Args: args, Source: source}
}

func TestEvaluate_ReadOnlyAlwaysAllowed(t *testing.T) {
	e, _ := newTestEngine(t, "safety:\n  dry_run: true\n")

	for _, verb := range []types.Verb{types.VerbList, types.VerbPrintDir, types.VerbMonitor, types.VerbHelp} {
		d := e.Evaluate(Request{Command: cmd(verb, types.SourceDirect), VirtualPath: "/docs"})
		assert.Equal(t, types.OutcomeAllow, d.Outcome, "verb=%s", verb)
	}
}

func TestEvaluate_ReversibleVerbs(t *testing.T) {
	e, h := newTestEngine(t, "")

	d := e.Evaluate(Request{Command: cmd(types.VerbMakeDir, types.SourceDirect, "demo"), VirtualPath: "/demo"})
	assert.Equal(t, types.OutcomeAllow, d.Outcome)

	h.Update(func(c *config.Config) { c.Safety.DryRun = true })

	d = e.Evaluate(Request{Command: cmd(types.VerbMakeDir, types.SourceDirect, "demo"), VirtualPath: "/demo"})
	assert.Equal(t, types.OutcomeConfirm, d.Outcome)
	assert.Equal(t, "dry-run: no changes applied", d.Reason)
	assert.True(t, d.Simulate)

	d = e.Evaluate(Request{Command: cmd(types.VerbChangeDir, types.SourceDirect, "demo"), VirtualPath: "/demo"})
	assert.Equal(t, types.OutcomeConfirm, d.Outcome)
	assert.True(t, d.Simulate)
}

func TestEvaluate_RemoveUnderSafeMode(t *testing.T) {
	e, h := newTestEngine(t, "")

	d := e.Evaluate(Request{Command: cmd(types.VerbRemove, types.SourceDirect, "old.txt"), VirtualPath: "/old.txt"})
	assert.Equal(t, types.OutcomeConfirm, d.Outcome)
	assert.Equal(t, "builtin/safe-mode", d.Rule)
	assert.False(t, d.Simulate)

	// The next command sees the flipped switch without any reload step.
	h.Update(func(c *config.Config) {
		f := false
		c.Safety.SafeMode = &f
	})
	d = e.Evaluate(Request{Command: cmd(types.VerbRemove, types.SourceDirect, "old.txt"), VirtualPath: "/old.txt"})
	assert.Equal(t, types.OutcomeAllow, d.Outcome)
}

func TestEvaluate_DryRunWinsOverSafeMode(t *testing.T) {
	e, _ := newTestEngine(t, "safety:\n  dry_run: true\n")

	d := e.Evaluate(Request{Command: cmd(types.VerbRemove, types.SourceDirect, "old.txt"), VirtualPath: "/old.txt"})
	assert.Equal(t, types.OutcomeConfirm, d.Outcome)
	assert.True(t, d.Simulate)
}

func TestEvaluate_UnknownVerbDenied(t *testing.T) {
	e, _ := newTestEngine(t, "")

	d := e.Evaluate(Request{Command: cmd(types.VerbUnknown, types.SourceRuleMatcher)})
	assert.Equal(t, types.OutcomeDeny, d.Outcome)
	assert.Equal(t, "builtin/unknown-verb", d.Rule)
}

func TestEvaluate_BuiltinProtections(t *testing.T) {
	e, _ := newTestEngine(t, "")

	d := e.Evaluate(Request{Command: cmd(types.VerbRemove, types.SourceDirect, "/"), VirtualPath: "/"})
	assert.Equal(t, types.OutcomeDeny, d.Outcome)
	assert.Equal(t, "builtin/protect-root", d.Rule)

	d = e.Evaluate(Request{Command: cmd(types.VerbRemove, types.SourceDirect), VirtualPath: "/.safesh/bin/payload/x"})
	assert.Equal(t, types.OutcomeDeny, d.Outcome)
	assert.Equal(t, "builtin/protect-recycle-bin", d.Rule)

	d = e.Evaluate(Request{Command: cmd(types.VerbMakeDir, types.SourceDirect), VirtualPath: "/.safesh/bin/evil"})
	assert.Equal(t, types.OutcomeDeny, d.Outcome)

	// Navigation into the bin is read-only and stays possible.
	d = e.Evaluate(Request{Command: cmd(types.VerbChangeDir, types.SourceDirect), VirtualPath: "/.safesh/bin"})
	assert.NotEqual(t, types.OutcomeDeny, d.Outcome)
}

func TestEvaluate_AIConfirmationFloor(t *testing.T) {
	e, h := newTestEngine(t, "safety:\n  safe_mode: false\n")

	// Direct removal with safe mode off runs without confirmation.
	d := e.Evaluate(Request{Command: cmd(types.VerbRemove, types.SourceDirect, "x"), VirtualPath: "/x"})
	assert.Equal(t, types.OutcomeAllow, d.Outcome)

	// The same removal suggested by AI still needs a human.
	d = e.Evaluate(Request{Command: cmd(types.VerbRemove, types.SourceAI, "x"), VirtualPath: "/x"})
	assert.Equal(t, types.OutcomeConfirm, d.Outcome)
	assert.Equal(t, "builtin/ai-confirmation", d.Rule)

	// Rule-matcher output is treated like direct input.
	d = e.Evaluate(Request{Command: cmd(types.VerbRemove, types.SourceRuleMatcher, "x"), VirtualPath: "/x"})
	assert.Equal(t, types.OutcomeAllow, d.Outcome)

	h.Update(func(c *config.Config) {
		f := false
		c.AI.ConfirmationRequired = &f
	})
	d = e.Evaluate(Request{Command: cmd(types.VerbRemove, types.SourceAI, "x"), VirtualPath: "/x"})
	assert.Equal(t, types.OutcomeAllow, d.Outcome)
}

func TestEvaluate_RulesetFirstMatchWins(t *testing.T) {
	e, _ := newTestEngine(t, "")

	rs, err := ParseRuleset([]byte(`
rules:
  - name: block-dotgit
    paths: ["/**/.git", "/**/.git/**"]
    verbs: [rm]
    decision: deny
    message: version control history is protected
  - name: confirm-configs
    paths: ["/etc-like/**"]
    decision: confirm
  - name: allow-anything-else
    paths: ["/**"]
    decision: allow
`))
	require.NoError(t, err)
	require.NoError(t, e.SetRuleset(rs))

	d := e.Evaluate(Request{Command: cmd(types.VerbRemove, types.SourceDirect), VirtualPath: "/proj/.git"})
	assert.Equal(t, types.OutcomeDeny, d.Outcome)
	assert.Equal(t, "block-dotgit", d.Rule)
	assert.Equal(t, "version control history is protected", d.Reason)

	// Later rules do not soften the earlier deny.
	d = e.Evaluate(Request{Command: cmd(types.VerbRemove, types.SourceDirect), VirtualPath: "/proj/.git/config"})
	assert.Equal(t, types.OutcomeDeny, d.Outcome)

	d = e.Evaluate(Request{Command: cmd(types.VerbMakeDir, types.SourceDirect), VirtualPath: "/etc-like/app"})
	assert.Equal(t, types.OutcomeConfirm, d.Outcome)
	assert.Equal(t, "confirm-configs", d.Rule)

	// The deny is scoped to rm; listing the same path stays allowed.
	d = e.Evaluate(Request{Command: cmd(types.VerbList, types.SourceDirect), VirtualPath: "/proj/.git"})
	assert.Equal(t, types.OutcomeAllow, d.Outcome)
}

func TestEvaluate_RulesetAllowDoesNotBypassDryRun(t *testing.T) {
	e, _ := newTestEngine(t, "safety:\n  dry_run: true\n")

	rs, err := ParseRuleset([]byte(`
rules:
  - name: allow-scratch
    paths: ["/scratch/**"]
    decision: allow
`))
	require.NoError(t, err)
	require.NoError(t, e.SetRuleset(rs))

	d := e.Evaluate(Request{Command: cmd(types.VerbRemove, types.SourceDirect), VirtualPath: "/scratch/tmp.txt"})
	assert.Equal(t, types.OutcomeConfirm, d.Outcome)
	assert.True(t, d.Simulate)
}

func TestEvaluate_RulesetCannotOverrideBuiltins(t *testing.T) {
	e, _ := newTestEngine(t, "")

	rs, err := ParseRuleset([]byte(`
rules:
  - name: allow-everything
    paths: ["/**", "/"]
    decision: allow
`))
	require.NoError(t, err)
	require.NoError(t, e.SetRuleset(rs))

	d := e.Evaluate(Request{Command: cmd(types.VerbRemove, types.SourceDirect), VirtualPath: "/"})
	assert.Equal(t, types.OutcomeDeny, d.Outcome)

	d = e.Evaluate(Request{Command: cmd(types.VerbRemove, types.SourceDirect), VirtualPath: "/.safesh/bin"})
	assert.Equal(t, types.OutcomeDeny, d.Outcome)
}

func TestSetRuleset_Invalid(t *testing.T) {
	_, err := ParseRuleset([]byte("rules:\n  - name: bad\n    paths: [\"/x\"]\n    decision: maybe\n"))
	assert.Error(t, err)

	_, err = ParseRuleset([]byte("rules:\n  - name: badglob\n    paths: [\"[\"]\n    decision: deny\n"))
	assert.Error(t, err)
}

func TestLoadRuleset_MissingFileIsEmpty(t *testing.T) {
	rs, err := LoadRuleset("/definitely/not/here.yaml")
	require.NoError(t, err)
	assert.Empty(t, rs.Rules)
}
