package store

import (
	"context"

	"github.com/safesh/safesh/pkg/types"
)

type EventStore interface {
	AppendEvent(ctx context.Context, ev types.Event) error
	QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error)
	Close() error
}

// OutputStore keeps the text a command produced so the audit trail can
// show what a past listing or report actually returned.
type OutputStore interface {
	SaveOutput(ctx context.Context, sessionID, commandID string, output []byte, total int64, truncated bool) error
	ReadOutputChunk(ctx context.Context, commandID string, offset, limit int64) (chunk []byte, total int64, truncated bool, err error)
}
