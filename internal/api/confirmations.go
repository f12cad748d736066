package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/safesh/safesh/internal/confirm"
)

func (a *App) listConfirmations(w http.ResponseWriter, r *http.Request) {
	if a.confirms == nil {
		writeJSON(w, http.StatusOK, []confirm.Request{})
		return
	}
	writeJSON(w, http.StatusOK, a.confirms.Pending())
}

func (a *App) resolveConfirmation(w http.ResponseWriter, r *http.Request) {
	if a.confirms == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "confirmations not enabled"})
		return
	}
	id := chi.URLParam(r, "id")
	var req struct {
		Decision string `json:"decision"` // "approve" or "deny"
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	approved := strings.EqualFold(req.Decision, "approve") || strings.EqualFold(req.Decision, "allow")
	if ok := a.confirms.Resolve(id, approved, req.Reason); !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "confirmation not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "approved": approved})
}
