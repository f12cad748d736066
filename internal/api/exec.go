package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/safesh/safesh/internal/ai"
	"github.com/safesh/safesh/internal/confirm"
	"github.com/safesh/safesh/internal/events"
	"github.com/safesh/safesh/internal/executor"
	"github.com/safesh/safesh/internal/session"
	"github.com/safesh/safesh/pkg/types"
)

func (a *App) execInSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.activeSession(w, r)
	if !ok {
		return
	}

	var req types.ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}

	var confirmTimeout time.Duration
	hasTimeout := false
	if req.ConfirmTimeout != "" {
		d, err := time.ParseDuration(req.ConfirmTimeout)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid confirm_timeout: " + err.Error()})
			return
		}
		confirmTimeout, hasTimeout = d, true
	}

	cmd := req.Command
	if req.Text != "" {
		cmd = a.interpretText(r.Context(), sess, req.Text).Command
	}
	if cmd.Verb == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "command or text is required"})
		return
	}

	var confirmFn executor.ConfirmFunc
	if a.confirms != nil {
		confirmFn = a.confirms.Ask
		if hasTimeout {
			d := confirmTimeout
			confirmFn = func(ctx context.Context, creq confirm.Request) (confirm.Resolution, error) {
				return a.confirms.AskWithTimeout(ctx, creq, d)
			}
		}
	}

	res := a.exec.Execute(r.Context(), sess, cmd, confirmFn)
	writeJSON(w, statusForResult(res), res)
}

func (a *App) interpretInSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.activeSession(w, r)
	if !ok {
		return
	}

	var req types.InterpretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "text is required"})
		return
	}

	tr := a.interpretText(r.Context(), sess, req.Text)
	writeJSON(w, http.StatusOK, types.InterpretResponse{
		SessionID:   sess.ID,
		Translation: tr,
	})
}

// interpretText runs one line through the shell dispatch: typed commands
// parse directly, everything else hits the translation chain. Translations
// land in the audit trail; the suggestion is returned, never executed here.
func (a *App) interpretText(ctx context.Context, sess *session.Session, text string) types.TranslationResult {
	tr := a.nl.InterpretLine(ctx, ai.Request{
		Text:      text,
		Cwd:       sess.Snapshot().Cwd,
		SessionID: sess.ID,
	})

	if a.emitter != nil && tr.Engine != types.SourceDirect {
		t := events.EventTranslated
		if tr.Note != "" {
			t = events.EventTranslateFallback
		}
		ev := events.New(t, sess.ID)
		ev.Verb = tr.Command.Verb
		ev.Source = tr.Engine
		ev.Fields = map[string]any{
			"text":       text,
			"confidence": tr.Confidence,
		}
		if tr.Note != "" {
			ev.Fields["note"] = tr.Note
		}
		a.emitter.Emit(ctx, ev)
	}
	return tr
}

func (a *App) getOutputChunk(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.activeSession(w, r); !ok {
		return
	}

	cmdID := chi.URLParam(r, "cmdID")
	offset, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)

	chunk, total, truncated, err := a.outputs.ReadOutputChunk(r.Context(), cmdID, offset, limit)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"command_id":  cmdID,
		"offset":      offset,
		"limit":       limit,
		"total_bytes": total,
		"truncated":   truncated,
		"data":        string(chunk),
		"has_more":    offset+int64(len(chunk)) < total,
	})
}

// statusForResult maps a result's error code onto the HTTP status. The full
// result is the response body either way.
func statusForResult(res types.ExecutionResult) int {
	if res.Error == nil {
		return http.StatusOK
	}
	switch res.Error.Code {
	case types.ErrCodePathEscape, types.ErrCodeForbidden:
		return http.StatusForbidden
	case types.ErrCodeCancelled:
		return http.StatusConflict
	case types.ErrCodeConfirmTimeout:
		return http.StatusRequestTimeout
	case types.ErrCodeUnknownVerb, types.ErrCodeInvalidArgs:
		return http.StatusBadRequest
	case types.ErrCodeNotFound:
		return http.StatusNotFound
	case types.ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
