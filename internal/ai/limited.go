package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/safesh/safesh/internal/config"
	"github.com/safesh/safesh/pkg/ratelimit"
	"github.com/safesh/safesh/pkg/types"
)

// LimitedTranslator wraps a Translator with the fixed-window call budget
// and the confidence threshold. Quota exhaustion fails before any network
// attempt.
//
// Accounting rule: a window slot is consumed the moment we commit to
// sending. It is refunded only when the call provably never left (context
// already cancelled before dispatch); a call that may have reached the
// service keeps its slot whatever its outcome, which keeps the budget
// conservative.
type LimitedTranslator struct {
	inner  Translator
	window *ratelimit.Window
	cfg    *config.Handle
	logger *slog.Logger
}

func NewLimited(inner Translator, window *ratelimit.Window, cfg *config.Handle, logger *slog.Logger) *LimitedTranslator {
	if logger == nil {
		logger = slog.Default()
	}
	return &LimitedTranslator{inner: inner, window: window, cfg: cfg, logger: logger}
}

func (l *LimitedTranslator) Name() string { return l.inner.Name() }

// Window exposes the limiter for status surfaces.
func (l *LimitedTranslator) Window() *ratelimit.Window { return l.window }

func (l *LimitedTranslator) Translate(ctx context.Context, req Request) (types.TranslationResult, error) {
	cfg := l.cfg.Snapshot()
	l.window.SetLimit(cfg.AI.RateLimitPerWindow, cfg.AI.Window())

	if !l.window.Reserve() {
		state := l.window.Snapshot()
		l.logger.Debug("ai quota spent, failing fast",
			"calls_in_window", state.Calls, "max", state.Max)
		return types.TranslationResult{}, fmt.Errorf("%w: %d calls in current window", ErrQuotaExceeded, state.Calls)
	}

	if err := ctx.Err(); err != nil {
		// The call never left the process; hand the slot back.
		l.window.Release()
		return types.TranslationResult{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	res, err := l.inner.Translate(ctx, req)
	if err != nil {
		return types.TranslationResult{}, err
	}

	if res.Confidence < cfg.AI.ConfidenceThreshold {
		return types.TranslationResult{}, fmt.Errorf("%w: %.2f < %.2f",
			ErrLowConfidence, res.Confidence, cfg.AI.ConfidenceThreshold)
	}
	return res, nil
}
