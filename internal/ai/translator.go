// Package ai turns natural-language requests into structured commands by
// calling an external model service. The service sits behind a fixed-window
// call budget and a confidence threshold; every failure mode maps to one of
// three errors the dispatch layer absorbs by falling back to rule matching.
package ai

import (
	"context"
	"errors"

	"github.com/safesh/safesh/pkg/types"
)

var (
	// ErrQuotaExceeded means the call budget for the current window is
	// spent. Raised before any network activity.
	ErrQuotaExceeded = errors.New("ai translation quota exceeded")

	// ErrServiceUnavailable covers transport failures, timeouts and
	// malformed responses.
	ErrServiceUnavailable = errors.New("ai service unavailable")

	// ErrLowConfidence means the service answered but below the configured
	// confidence threshold.
	ErrLowConfidence = errors.New("ai translation below confidence threshold")

	// ErrUnsafeRequest means the service declined the request as one it
	// will not fulfill.
	ErrUnsafeRequest = errors.New("ai service declined unsafe request")
)

// Request is one translation attempt. Cwd is the session's virtual working
// directory, included in the prompt for relative-path suggestions.
type Request struct {
	Text      string
	Cwd       string
	SessionID string
}

// Translator converts free text into a structured command.
type Translator interface {
	Name() string
	Translate(ctx context.Context, req Request) (types.TranslationResult, error)
}
