// Package nl routes natural-language input to a translator: the AI service
// first when enabled and within budget, the deterministic rule matcher
// otherwise. The result is returned for the executor's confirmation
// workflow, never executed here.
package nl

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/safesh/safesh/internal/ai"
	"github.com/safesh/safesh/internal/config"
	"github.com/safesh/safesh/internal/rules"
	"github.com/safesh/safesh/pkg/types"
)

// Dispatcher holds the translation chain. The AI translator is optional;
// without one every interpretation comes from the rule matcher.
type Dispatcher struct {
	cfg        *config.Handle
	translator ai.Translator
	logger     *slog.Logger
}

func NewDispatcher(cfg *config.Handle, translator ai.Translator, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{cfg: cfg, translator: translator, logger: logger}
}

// Interpret translates free text into a structured command. It cannot fail:
// every AI error is absorbed here and answered by the rule matcher, whose
// Unknown verb is the worst case. The result's Engine and Note disclose who
// produced the suggestion and why.
func (d *Dispatcher) Interpret(ctx context.Context, req ai.Request) types.TranslationResult {
	cfg := d.cfg.Snapshot()

	if !cfg.AI.Enabled || d.translator == nil {
		return rules.Translate(req.Text)
	}

	res, err := d.translator.Translate(ctx, req)
	if err == nil {
		return res
	}

	note := fallbackNote(err)
	d.logger.Info("falling back to rule matcher",
		"reason", note,
		"session_id", req.SessionID,
		"error", err)

	fallback := rules.Translate(req.Text)
	fallback.Note = note
	return fallback
}

// InterpretLine handles one shell line: typed commands parse directly,
// anything else goes through the translation chain. A leading "?" skips
// direct parsing and forces translation.
func (d *Dispatcher) InterpretLine(ctx context.Context, req ai.Request) types.TranslationResult {
	text := strings.TrimSpace(req.Text)
	if forced, ok := strings.CutPrefix(text, "?"); ok {
		req.Text = strings.TrimSpace(forced)
		return d.Interpret(ctx, req)
	}

	cmd, err := rules.ParseDirect(text)
	if err != nil {
		return types.TranslationResult{
			Command: types.StructuredCommand{Verb: types.VerbUnknown, RawText: text, Source: types.SourceDirect},
			Engine:  types.SourceDirect,
			Note:    err.Error(),
		}
	}
	if cmd.Verb != types.VerbUnknown {
		return types.TranslationResult{Command: cmd, Confidence: 1, Engine: types.SourceDirect}
	}

	req.Text = text
	return d.Interpret(ctx, req)
}

func fallbackNote(err error) string {
	switch {
	case errors.Is(err, ai.ErrQuotaExceeded):
		return "ai quota exceeded"
	case errors.Is(err, ai.ErrLowConfidence):
		return "ai confidence too low"
	case errors.Is(err, ai.ErrUnsafeRequest):
		return "ai declined unsafe request"
	case errors.Is(err, ai.ErrServiceUnavailable):
		return "ai service unavailable"
	default:
		return "ai translation failed"
	}
}
