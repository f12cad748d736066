package types

import "time"

type SessionState string

const (
	SessionStateReady  SessionState = "ready"  // Accepting commands
	SessionStateBusy   SessionState = "busy"   // Command in progress
	SessionStateClosed SessionState = "closed" // Destroyed or reaped
)

// IsActive returns true if the session can still accept commands.
func (s SessionState) IsActive() bool {
	return s == SessionStateReady || s == SessionStateBusy
}

type Session struct {
	ID           string       `json:"id"`
	State        SessionState `json:"state"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActivity time.Time    `json:"last_activity"`
	// Cwd is the session's virtual working directory, rooted at "/".
	Cwd string `json:"cwd"`
}

type CreateSessionRequest struct {
	ID string `json:"id,omitempty"`
}

type InterpretRequest struct {
	Text string `json:"text"`
}

type InterpretResponse struct {
	SessionID   string            `json:"session_id"`
	Translation TranslationResult `json:"translation"`
}

type ExecRequest struct {
	Command StructuredCommand `json:"command"`
	// Text, when set, is interpreted first and overrides Command.
	Text string `json:"text,omitempty"`
	// ConfirmTimeout bounds the confirmation round-trip, e.g. "60s".
	ConfirmTimeout string `json:"confirm_timeout,omitempty"`
}

type RestoreRequest struct {
	Force bool `json:"force,omitempty"`
	// Dest overrides the restore destination; empty restores to the
	// original path.
	Dest string `json:"dest,omitempty"`
}
