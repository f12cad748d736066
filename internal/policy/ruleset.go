package policy

import (
	"fmt"
	"os"
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/safesh/safesh/pkg/types"
)

// Ruleset is the on-disk protected-path policy. Rules are evaluated in file
// order, first match wins, against the virtual path of the target.
type Ruleset struct {
	Version     int    `yaml:"version"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	Rules []Rule `yaml:"rules"`
}

// Rule matches a verb against a set of virtual path globs.
type Rule struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Paths       []string `yaml:"paths"`
	Verbs       []string `yaml:"verbs"` // empty = all verbs
	Decision    string   `yaml:"decision"`
	Message     string   `yaml:"message"`
}

type compiledRule struct {
	rule  Rule
	globs []glob.Glob
	verbs map[types.Verb]struct{}
}

func (c compiledRule) matches(verb types.Verb, vpath string) bool {
	if len(c.verbs) > 0 {
		if _, ok := c.verbs[verb]; !ok {
			return false
		}
	}
	for _, g := range c.globs {
		if g.Match(vpath) {
			return true
		}
	}
	return false
}

func (c compiledRule) outcome() (types.Outcome, error) {
	switch strings.ToLower(c.rule.Decision) {
	case "allow":
		return types.OutcomeAllow, nil
	case "deny":
		return types.OutcomeDeny, nil
	case "confirm", "approve":
		return types.OutcomeConfirm, nil
	default:
		return types.OutcomeDeny, fmt.Errorf("rule %q: unknown decision %q", c.rule.Name, c.rule.Decision)
	}
}

func compileRuleset(rs *Ruleset) ([]compiledRule, error) {
	var compiled []compiledRule
	for _, r := range rs.Rules {
		cr := compiledRule{rule: r, verbs: map[types.Verb]struct{}{}}
		if _, err := cr.outcome(); err != nil {
			return nil, err
		}
		for _, v := range r.Verbs {
			cr.verbs[types.Verb(strings.ToLower(v))] = struct{}{}
		}
		for _, pat := range r.Paths {
			g, err := glob.Compile(pat, '/')
			if err != nil {
				return nil, fmt.Errorf("compile rule %q glob %q: %w", r.Name, pat, err)
			}
			cr.globs = append(cr.globs, g)
		}
		compiled = append(compiled, cr)
	}
	return compiled, nil
}

// ParseRuleset decodes a YAML ruleset without installing it.
func ParseRuleset(b []byte) (*Ruleset, error) {
	var rs Ruleset
	if err := yaml.Unmarshal(b, &rs); err != nil {
		return nil, fmt.Errorf("parse ruleset: %w", err)
	}
	if _, err := compileRuleset(&rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

// LoadRuleset reads and validates a ruleset file. A missing file yields an
// empty ruleset so the engine runs on built-ins alone.
func LoadRuleset(path string) (*Ruleset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Ruleset{}, nil
		}
		return nil, fmt.Errorf("read ruleset: %w", err)
	}
	return ParseRuleset(b)
}
