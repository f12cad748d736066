package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/safesh/safesh/pkg/types"
)

// Sink receives every event for durable storage.
type Sink interface {
	AppendEvent(ctx context.Context, ev types.Event) error
}

// Emitter is the write side handed to components that produce events.
type Emitter interface {
	Emit(ctx context.Context, ev types.Event)
}

// New returns an event of the given type stamped with a fresh ID and a
// UTC timestamp. Callers fill in correlation and detail fields.
func New(t EventType, sessionID string) types.Event {
	return types.Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      string(t),
		SessionID: sessionID,
	}
}

// Recorder fans events out to the durable sink and the live broker.
// Sink failures are logged and swallowed: losing an audit write must not
// fail the command that produced the event.
type Recorder struct {
	broker *Broker
	sink   Sink
	logger *slog.Logger
}

// NewRecorder builds a Recorder. Both broker and sink may be nil.
func NewRecorder(broker *Broker, sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{broker: broker, sink: sink, logger: logger}
}

func (r *Recorder) Emit(ctx context.Context, ev types.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if r.sink != nil {
		if err := r.sink.AppendEvent(ctx, ev); err != nil {
			r.logger.Warn("audit append failed",
				"type", ev.Type,
				"session_id", ev.SessionID,
				"error", err)
		}
	}
	if r.broker != nil {
		r.broker.Publish(ev)
	}
}
