package types

type Verb string

const (
	VerbList      Verb = "list"
	VerbChangeDir Verb = "cd"
	VerbPrintDir  Verb = "pwd"
	VerbMakeDir   Verb = "mkdir"
	VerbRemove    Verb = "rm"
	VerbMonitor   Verb = "monitor"
	VerbHelp      Verb = "help"
	VerbExit      Verb = "exit"
	VerbUnknown   Verb = "unknown"
)

// Known reports whether the verb is one the shell implements. Verbs arrive
// from clients and translators, so unknown strings are expected input.
func (v Verb) Known() bool {
	switch v {
	case VerbList, VerbChangeDir, VerbPrintDir, VerbMakeDir, VerbRemove, VerbMonitor, VerbHelp, VerbExit:
		return true
	default:
		return false
	}
}

// Mutating reports whether the verb changes filesystem or session state.
func (v Verb) Mutating() bool {
	switch v {
	case VerbMakeDir, VerbRemove, VerbChangeDir:
		return true
	default:
		return false
	}
}

// Destructive reports whether the verb removes data.
func (v Verb) Destructive() bool {
	return v == VerbRemove
}

type Source string

const (
	SourceDirect      Source = "direct"
	SourceRuleMatcher Source = "rules"
	SourceAI          Source = "ai"
)

type StructuredCommand struct {
	Verb    Verb     `json:"verb"`
	Args    []string `json:"args,omitempty"`
	RawText string   `json:"raw_text,omitempty"`
	Source  Source   `json:"source"`
}

// Flags returns the dash-prefixed args; Targets returns the rest in order.
func (c StructuredCommand) Flags() []string {
	var out []string
	for _, a := range c.Args {
		if len(a) > 1 && a[0] == '-' {
			out = append(out, a)
		}
	}
	return out
}

func (c StructuredCommand) Targets() []string {
	var out []string
	for _, a := range c.Args {
		if len(a) > 0 && a[0] == '-' {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (c StructuredCommand) HasFlag(name string) bool {
	for _, a := range c.Args {
		if a == name {
			return true
		}
	}
	return false
}

// TranslationResult is the outcome of one translation attempt. Note, when
// set, explains why the rule matcher answered instead of the AI; it is
// surfaced in confirmation prompts.
type TranslationResult struct {
	Command    StructuredCommand `json:"command"`
	Confidence float64           `json:"confidence"`
	Engine     Source            `json:"engine"`
	Note       string            `json:"note,omitempty"`
}
