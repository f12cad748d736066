package types

type Outcome string

const (
	OutcomeAllow   Outcome = "allow"
	OutcomeConfirm Outcome = "allow_with_confirmation"
	OutcomeDeny    Outcome = "deny"
)

type SafetyDecision struct {
	Outcome Outcome `json:"outcome"`
	// Reason states which rule fired or which path failed containment.
	Reason string `json:"reason,omitempty"`
	Rule   string `json:"rule,omitempty"`
	// Simulate tells the executor to report the operation without applying
	// it. Carried in the decision so the dry-run the user confirmed is the
	// dry-run that happens, even if config flips mid-command.
	Simulate bool `json:"simulate,omitempty"`
}

type ConfirmMode string

const (
	ConfirmModeTTY ConfirmMode = "tty"
	ConfirmModeAPI ConfirmMode = "api"
)
