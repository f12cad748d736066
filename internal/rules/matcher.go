// Package rules is the deterministic fallback translator from free text to
// structured commands. It needs no network and never fails: text that
// matches nothing maps to the Unknown verb with the raw input preserved.
package rules

import (
	"regexp"
	"strings"

	"github.com/safesh/safesh/pkg/types"
)

// rule pairs one pattern with a command builder. The table below is ordered
// and evaluated top to bottom; the first hit wins. That ordering is part of
// the matcher's contract: callers and tests rely on it, so new rules are
// appended with care.
type rule struct {
	name  string
	re    *regexp.Regexp
	build func(m []string) types.StructuredCommand
}

var table = []rule{
	{
		name: "list-files",
		re:   regexp.MustCompile(`list\s+files?|show\s+files?|^ls$`),
		build: func([]string) types.StructuredCommand {
			return command(types.VerbList)
		},
	},
	{
		name: "list-all",
		re:   regexp.MustCompile(`list\s+all|show\s+all|ls\s+all`),
		build: func([]string) types.StructuredCommand {
			return command(types.VerbList, "-a")
		},
	},
	{
		name: "list-detailed",
		re:   regexp.MustCompile(`list\s+detailed?|ls\s+detailed?`),
		build: func([]string) types.StructuredCommand {
			return command(types.VerbList, "-l")
		},
	},
	{
		name: "print-dir",
		re:   regexp.MustCompile(`where\s+am\s+i|current\s+dir|pwd`),
		build: func([]string) types.StructuredCommand {
			return command(types.VerbPrintDir)
		},
	},
	{
		name: "change-dir",
		re:   regexp.MustCompile(`go\s+to\s+(.+)|change\s+to\s+(.+)|cd\s+(.+)`),
		build: func(m []string) types.StructuredCommand {
			return command(types.VerbChangeDir, target(firstGroup(m))...)
		},
	},
	{
		name: "make-dir-folder",
		re:   regexp.MustCompile(`create\s+(?:a\s+)?(?:new\s+)?folder\s+(?:called\s+)?(.+)`),
		build: func(m []string) types.StructuredCommand {
			return command(types.VerbMakeDir, target(m[1])...)
		},
	},
	{
		name: "make-dir",
		re:   regexp.MustCompile(`make\s+(?:a\s+)?(?:new\s+)?(?:dir|directory)\s+(?:called\s+)?(.+)`),
		build: func(m []string) types.StructuredCommand {
			return command(types.VerbMakeDir, target(m[1])...)
		},
	},
	{
		name: "make-directory",
		re:   regexp.MustCompile(`create\s+(?:a\s+)?(?:new\s+)?directory\s+(?:called\s+)?(.+)`),
		build: func(m []string) types.StructuredCommand {
			return command(types.VerbMakeDir, target(m[1])...)
		},
	},
	{
		name: "mkdir-literal",
		re:   regexp.MustCompile(`mkdir\s+(.+)`),
		build: func(m []string) types.StructuredCommand {
			return command(types.VerbMakeDir, target(m[1])...)
		},
	},
	{
		name: "remove",
		re:   regexp.MustCompile(`delete\s+(.+)|remove\s+(.+)|rm\s+(.+)`),
		build: func(m []string) types.StructuredCommand {
			return command(types.VerbRemove, target(firstGroup(m))...)
		},
	},
	{
		name: "monitor",
		re:   regexp.MustCompile(`system\s+info|monitor|show\s+stats`),
		build: func([]string) types.StructuredCommand {
			return command(types.VerbMonitor)
		},
	},
	{
		name: "help",
		re:   regexp.MustCompile(`help|show\s+help`),
		build: func([]string) types.StructuredCommand {
			return command(types.VerbHelp)
		},
	},
	{
		name: "exit",
		re:   regexp.MustCompile(`exit|quit`),
		build: func([]string) types.StructuredCommand {
			return command(types.VerbExit)
		},
	},
}

// Match translates free text into a structured command. It always returns:
// unmatched input yields VerbUnknown with RawText set for diagnostics.
func Match(text string) types.StructuredCommand {
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, r := range table {
		m := r.re.FindStringSubmatch(normalized)
		if m == nil {
			continue
		}
		cmd := r.build(m)
		cmd.RawText = text
		cmd.Source = types.SourceRuleMatcher
		return cmd
	}
	return types.StructuredCommand{
		Verb:    types.VerbUnknown,
		RawText: text,
		Source:  types.SourceRuleMatcher,
	}
}

// Translate wraps Match in the translator result shape: confidence is fixed
// at 1.0 for any pattern hit and 0.0 for Unknown.
func Translate(text string) types.TranslationResult {
	cmd := Match(text)
	confidence := 1.0
	if cmd.Verb == types.VerbUnknown {
		confidence = 0.0
	}
	return types.TranslationResult{
		Command:    cmd,
		Confidence: confidence,
		Engine:     types.SourceRuleMatcher,
	}
}

func command(verb types.Verb, args ...string) types.StructuredCommand {
	return types.StructuredCommand{Verb: verb, Args: args}
}

// firstGroup returns the first non-empty capture group, for alternation
// patterns where only one branch captured.
func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

// noiseWords are trailing descriptors people attach to targets ("delete demo
// folder"). They are dropped only when something else remains.
var noiseWords = map[string]struct{}{
	"folder":      {},
	"folders":     {},
	"dir":         {},
	"directory":   {},
	"directories": {},
	"file":        {},
	"files":       {},
	"the":         {},
}

// target splits a captured phrase into argument tokens, trimming trailing
// noise words and a leading article.
func target(phrase string) []string {
	tokens := strings.Fields(strings.TrimSpace(phrase))
	for len(tokens) > 1 {
		if _, ok := noiseWords[tokens[len(tokens)-1]]; !ok {
			break
		}
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) > 1 {
		if tokens[0] == "the" {
			tokens = tokens[1:]
		}
	}
	return tokens
}
