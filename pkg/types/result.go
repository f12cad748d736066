package types

import "time"

type ExecutionResult struct {
	CommandID string    `json:"command_id"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Command StructuredCommand `json:"command"`

	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	// Output carries listing/monitor text for display; empty for mutations.
	Output string `json:"output,omitempty"`

	SideEffects SideEffects `json:"side_effects,omitempty"`

	DurationMs int64      `json:"duration_ms"`
	Error      *ExecError `json:"error,omitempty"`
}

type SideEffects struct {
	RecycleEntryID string `json:"recycle_entry_id,omitempty"`
	CreatedPath    string `json:"created_path,omitempty"`
	NewCwd         string `json:"new_cwd,omitempty"`
	DryRun         bool   `json:"dry_run,omitempty"`
}

type ExecError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Rule    string         `json:"rule,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

const (
	ErrCodePathEscape     = "E_PATH_ESCAPE"
	ErrCodeForbidden      = "E_POLICY_DENIED"
	ErrCodeCancelled      = "E_CANCELLED"
	ErrCodeConfirmTimeout = "E_CONFIRM_TIMEOUT"
	ErrCodeUnknownVerb    = "E_UNKNOWN_VERB"
	ErrCodeInvalidArgs    = "E_INVALID_ARGS"
	ErrCodeNotFound       = "E_NOT_FOUND"
	ErrCodeConflict       = "E_CONFLICT"
	ErrCodeInternal       = "E_INTERNAL"
)
