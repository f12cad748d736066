package ai

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safesh/safesh/internal/config"
	"github.com/safesh/safesh/pkg/ratelimit"
	"github.com/safesh/safesh/pkg/types"
)

// countingTranslator records how many calls actually went out, which is how
// the fail-fast property is asserted (no latency guessing).
type countingTranslator struct {
	mu    sync.Mutex
	calls int
	res   types.TranslationResult
	err   error
}

func (c *countingTranslator) Name() string { return "counting" }

func (c *countingTranslator) Translate(context.Context, Request) (types.TranslationResult, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.res, c.err
}

func (c *countingTranslator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newLimited(t *testing.T, inner Translator, yaml string) *LimitedTranslator {
	t.Helper()
	cfg, err := config.LoadFromBytes([]byte(yaml))
	require.NoError(t, err)
	h := config.NewHandle(cfg)
	w := ratelimit.NewWindow(cfg.AI.RateLimitPerWindow, cfg.AI.Window())
	return NewLimited(inner, w, h, nil)
}

func TestLimited_QuotaFailsFastWithoutCall(t *testing.T) {
	inner := &countingTranslator{
		res: types.TranslationResult{
			Command:    types.StructuredCommand{Verb: types.VerbList, Source: types.SourceAI},
			Confidence: 0.9,
			Engine:     types.SourceAI,
		},
	}
	l := newLimited(t, inner, "ai:\n  rate_limit_per_window: 2\n  rate_limit_window_seconds: 3600\n")

	for i := 0; i < 2; i++ {
		_, err := l.Translate(context.Background(), Request{Text: "list files"})
		require.NoError(t, err)
	}
	require.Equal(t, 2, inner.count())

	_, err := l.Translate(context.Background(), Request{Text: "list files"})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, 2, inner.count(), "no network attempt once the budget is spent")
}

func TestLimited_LowConfidence(t *testing.T) {
	inner := &countingTranslator{
		res: types.TranslationResult{
			Command:    types.StructuredCommand{Verb: types.VerbRemove, Source: types.SourceAI},
			Confidence: 0.3,
			Engine:     types.SourceAI,
		},
	}
	l := newLimited(t, inner, "ai:\n  confidence_threshold: 0.6\n")

	_, err := l.Translate(context.Background(), Request{Text: "remove it"})
	assert.ErrorIs(t, err, ErrLowConfidence)
}

func TestLimited_CancelledBeforeDispatchRefundsSlot(t *testing.T) {
	inner := &countingTranslator{
		res: types.TranslationResult{
			Command:    types.StructuredCommand{Verb: types.VerbList, Source: types.SourceAI},
			Confidence: 0.9,
		},
	}
	l := newLimited(t, inner, "ai:\n  rate_limit_per_window: 1\n  rate_limit_window_seconds: 3600\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Translate(ctx, Request{Text: "list"})
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, 0, inner.count())

	// The refunded slot is still usable.
	_, err = l.Translate(context.Background(), Request{Text: "list"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.count())
}

func TestLimited_FailedCallStillCounts(t *testing.T) {
	inner := &countingTranslator{err: errors.New("boom")}
	l := newLimited(t, inner, "ai:\n  rate_limit_per_window: 1\n  rate_limit_window_seconds: 3600\n")

	_, err := l.Translate(context.Background(), Request{Text: "list"})
	assert.Error(t, err)
	require.Equal(t, 1, inner.count())

	// The slot is spent even though the call failed.
	_, err = l.Translate(context.Background(), Request{Text: "list"})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, 1, inner.count())
}

func TestLimited_LiveLimitChange(t *testing.T) {
	inner := &countingTranslator{
		res: types.TranslationResult{
			Command:    types.StructuredCommand{Verb: types.VerbList, Source: types.SourceAI},
			Confidence: 0.9,
		},
	}
	cfg, err := config.LoadFromBytes([]byte("ai:\n  rate_limit_per_window: 1\n  rate_limit_window_seconds: 3600\n"))
	require.NoError(t, err)
	h := config.NewHandle(cfg)
	w := ratelimit.NewWindow(cfg.AI.RateLimitPerWindow, cfg.AI.Window())
	l := NewLimited(inner, w, h, nil)

	_, err = l.Translate(context.Background(), Request{Text: "list"})
	require.NoError(t, err)
	_, err = l.Translate(context.Background(), Request{Text: "list"})
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// Raising the budget takes effect on the next call without restart.
	h.Update(func(c *config.Config) { c.AI.RateLimitPerWindow = 5 })
	_, err = l.Translate(context.Background(), Request{Text: "list"})
	assert.NoError(t, err)
}

func TestLimited_WindowRolls(t *testing.T) {
	inner := &countingTranslator{
		res: types.TranslationResult{
			Command:    types.StructuredCommand{Verb: types.VerbList, Source: types.SourceAI},
			Confidence: 0.9,
		},
	}
	cfg, err := config.LoadFromBytes([]byte("ai:\n  rate_limit_per_window: 1\n  rate_limit_window_seconds: 1\n"))
	require.NoError(t, err)
	h := config.NewHandle(cfg)

	now := time.Unix(0, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	w := ratelimit.NewWindow(1, time.Second, ratelimit.WithClock(clock))
	l := NewLimited(inner, w, h, nil)

	_, err = l.Translate(context.Background(), Request{Text: "list"})
	require.NoError(t, err)
	_, err = l.Translate(context.Background(), Request{Text: "list"})
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()

	_, err = l.Translate(context.Background(), Request{Text: "list"})
	assert.NoError(t, err)
}
