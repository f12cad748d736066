package store

import (
	"context"
	"fmt"

	"github.com/safesh/safesh/internal/audit"
	"github.com/safesh/safesh/pkg/types"
)

// ChainedStore wraps an EventStore and stamps every event with integrity
// chain metadata before it is written, so the stored trail is verifiable
// with audit.Verify.
type ChainedStore struct {
	inner EventStore
	chain *audit.Chain
}

func NewChainedStore(inner EventStore, chain *audit.Chain) *ChainedStore {
	return &ChainedStore{inner: inner, chain: chain}
}

func (s *ChainedStore) AppendEvent(ctx context.Context, ev types.Event) error {
	stamped, err := s.chain.Stamp(ev)
	if err != nil {
		return fmt.Errorf("integrity stamp: %w", err)
	}
	return s.inner.AppendEvent(ctx, stamped)
}

func (s *ChainedStore) QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error) {
	return s.inner.QueryEvents(ctx, q)
}

func (s *ChainedStore) Close() error {
	return s.inner.Close()
}

// Chain exposes the underlying chain head for status reporting.
func (s *ChainedStore) Chain() *audit.Chain {
	return s.chain
}
