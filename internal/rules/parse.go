package rules

import (
	"fmt"
	"strings"

	"github.com/safesh/safesh/pkg/types"
)

// verbAliases maps typed command names to verbs. ll and la are the usual
// listing shorthands.
var verbAliases = map[string]struct {
	verb types.Verb
	args []string
}{
	"ls":      {verb: types.VerbList},
	"list":    {verb: types.VerbList},
	"ll":      {verb: types.VerbList, args: []string{"-l"}},
	"la":      {verb: types.VerbList, args: []string{"-a"}},
	"cd":      {verb: types.VerbChangeDir},
	"pwd":     {verb: types.VerbPrintDir},
	"mkdir":   {verb: types.VerbMakeDir},
	"rm":      {verb: types.VerbRemove},
	"monitor": {verb: types.VerbMonitor},
	"help":    {verb: types.VerbHelp},
	"exit":    {verb: types.VerbExit},
	"quit":    {verb: types.VerbExit},
}

// ParseDirect turns one typed line into a structured command with source
// Direct. Unknown command names yield VerbUnknown, never an error; only
// malformed quoting fails.
func ParseDirect(line string) (types.StructuredCommand, error) {
	fields, err := splitQuoted(line)
	if err != nil {
		return types.StructuredCommand{}, err
	}
	if len(fields) == 0 {
		return types.StructuredCommand{Verb: types.VerbUnknown, RawText: line, Source: types.SourceDirect}, nil
	}

	alias, ok := verbAliases[strings.ToLower(fields[0])]
	if !ok {
		return types.StructuredCommand{Verb: types.VerbUnknown, RawText: line, Source: types.SourceDirect}, nil
	}

	args := append([]string{}, alias.args...)
	args = append(args, fields[1:]...)
	return types.StructuredCommand{
		Verb:    alias.verb,
		Args:    args,
		RawText: line,
		Source:  types.SourceDirect,
	}, nil
}

// splitQuoted splits a line into fields honoring single quotes, double
// quotes and backslash escapes, close to shell word splitting.
func splitQuoted(line string) ([]string, error) {
	var (
		fields  []string
		current strings.Builder
		started bool
		quote   rune
		escaped bool
	)

	for _, r := range line {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			started = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			started = true
		case r == ' ' || r == '\t':
			if started {
				fields = append(fields, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(r)
			started = true
		}
	}

	if escaped {
		return nil, fmt.Errorf("trailing backslash")
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if started {
		fields = append(fields, current.String())
	}
	return fields, nil
}
