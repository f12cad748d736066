package types

import "time"

type PolicyInfo struct {
	Outcome Outcome `json:"outcome,omitempty"`
	Rule    string  `json:"rule,omitempty"`
	Message string  `json:"message,omitempty"`
	// ConfirmationID links the event to the confirmation that resolved it.
	ConfirmationID string `json:"confirmation_id,omitempty"`
}

type Event struct {
	ID        string      `json:"id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	CommandID string      `json:"command_id,omitempty"`
	Policy    *PolicyInfo `json:"policy,omitempty"`

	// Common convenience fields for indexing/search.
	Verb   Verb   `json:"verb,omitempty"`
	Path   string `json:"path,omitempty"`
	Source Source `json:"source,omitempty"`

	Fields map[string]any `json:"fields,omitempty"`
}

type EventQuery struct {
	SessionID string
	CommandID string
	Types     []string
	Since     *time.Time
	Until     *time.Time

	Outcome *Outcome

	PathLike string
	TextLike string

	Limit  int
	Offset int
	Asc    bool
}
