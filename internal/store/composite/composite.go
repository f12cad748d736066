// Package composite fans audit events out to a primary queryable store
// plus any number of mirrors (jsonl, webhook, otel). Queries and command
// output always go to the primary.
package composite

import (
	"context"
	"fmt"

	"github.com/safesh/safesh/internal/store"
	"github.com/safesh/safesh/pkg/types"
)

type Store struct {
	primary store.EventStore
	output  store.OutputStore
	others  []store.EventStore
}

func New(primary store.EventStore, output store.OutputStore, others ...store.EventStore) *Store {
	return &Store{primary: primary, output: output, others: others}
}

// AppendEvent writes to every store. All stores see the event even when
// an earlier one fails; the first error is returned.
func (s *Store) AppendEvent(ctx context.Context, ev types.Event) error {
	var firstErr error
	if err := s.primary.AppendEvent(ctx, ev); err != nil {
		firstErr = err
	}
	for _, o := range s.others {
		if err := o.AppendEvent(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error) {
	return s.primary.QueryEvents(ctx, q)
}

func (s *Store) SaveOutput(ctx context.Context, sessionID, commandID string, output []byte, total int64, truncated bool) error {
	if s.output == nil {
		return fmt.Errorf("output store not configured")
	}
	return s.output.SaveOutput(ctx, sessionID, commandID, output, total, truncated)
}

func (s *Store) ReadOutputChunk(ctx context.Context, commandID string, offset, limit int64) ([]byte, int64, bool, error) {
	if s.output == nil {
		return nil, 0, false, fmt.Errorf("output store not configured")
	}
	return s.output.ReadOutputChunk(ctx, commandID, offset, limit)
}

func (s *Store) Close() error {
	var firstErr error
	if err := s.primary.Close(); err != nil {
		firstErr = err
	}
	for _, o := range s.others {
		if err := o.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
