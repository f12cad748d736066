package events

// EventType identifies the type of event.
type EventType string

// Command lifecycle events.
const (
	EventCommandReceived  EventType = "command_received"
	EventCommandDenied    EventType = "command_denied"
	EventCommandExecuted  EventType = "command_executed"
	EventCommandFailed    EventType = "command_failed"
	EventCommandCancelled EventType = "command_cancelled"
	EventCommandSimulated EventType = "command_simulated"
)

// Confirmation round-trip events.
const (
	EventConfirmRequested EventType = "confirm_requested"
	EventConfirmResolved  EventType = "confirm_resolved"
	EventConfirmExpired   EventType = "confirm_expired"
)

// Natural language translation events.
const (
	EventTranslated        EventType = "nl_translated"
	EventTranslateFallback EventType = "nl_fallback"
)

// Recycle bin events.
const (
	EventBinStashed  EventType = "bin_stashed"
	EventBinRestored EventType = "bin_restored"
	EventBinPurged   EventType = "bin_purged"
)

// Session lifecycle events.
const (
	EventSessionCreated EventType = "session_created"
	EventSessionClosed  EventType = "session_closed"
	EventSessionExpired EventType = "session_expired"
)

// Configuration events.
const (
	EventConfigReloaded EventType = "config_reloaded"
	EventRulesReloaded  EventType = "rules_reloaded"
)

// EventCategory maps event types to their categories.
var EventCategory = map[EventType]string{
	// Command
	EventCommandReceived:  "command",
	EventCommandDenied:    "command",
	EventCommandExecuted:  "command",
	EventCommandFailed:    "command",
	EventCommandCancelled: "command",
	EventCommandSimulated: "command",

	// Confirmation
	EventConfirmRequested: "confirm",
	EventConfirmResolved:  "confirm",
	EventConfirmExpired:   "confirm",

	// Translation
	EventTranslated:        "translate",
	EventTranslateFallback: "translate",

	// Recycle bin
	EventBinStashed:  "bin",
	EventBinRestored: "bin",
	EventBinPurged:   "bin",

	// Session
	EventSessionCreated: "session",
	EventSessionClosed:  "session",
	EventSessionExpired: "session",

	// Configuration
	EventConfigReloaded: "config",
	EventRulesReloaded:  "config",
}

// AllEventTypes lists all event types.
var AllEventTypes = []EventType{
	// Command
	EventCommandReceived, EventCommandDenied, EventCommandExecuted,
	EventCommandFailed, EventCommandCancelled, EventCommandSimulated,
	// Confirmation
	EventConfirmRequested, EventConfirmResolved, EventConfirmExpired,
	// Translation
	EventTranslated, EventTranslateFallback,
	// Recycle bin
	EventBinStashed, EventBinRestored, EventBinPurged,
	// Session
	EventSessionCreated, EventSessionClosed, EventSessionExpired,
	// Configuration
	EventConfigReloaded, EventRulesReloaded,
}

// Known reports whether t names a registered event type.
func Known(t string) bool {
	_, ok := EventCategory[EventType(t)]
	return ok
}

// Category returns the category for an event type string, or "" when
// the type is not registered.
func Category(t string) string {
	return EventCategory[EventType(t)]
}
