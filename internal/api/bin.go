package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/safesh/safesh/internal/events"
	"github.com/safesh/safesh/internal/recyclebin"
	"github.com/safesh/safesh/pkg/types"
)

func (a *App) listBin(w http.ResponseWriter, r *http.Request) {
	entries, err := a.bin.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *App) getBinEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := a.bin.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, binErrorStatus(err), map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *App) restoreBinEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req types.RestoreRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
	}

	// Dest arrives as a sandbox path; resolve it so a crafted destination
	// cannot restore outside the allowed root.
	dest := req.Dest
	if dest != "" && a.resolver != nil {
		rp, err := a.resolver.Resolve(dest, a.resolver.Root())
		if err != nil {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": "dest: " + err.Error()})
			return
		}
		dest = rp.Absolute
	}

	restoredTo, err := a.bin.Restore(id, dest, req.Force)
	if err != nil {
		writeJSON(w, binErrorStatus(err), map[string]any{"error": err.Error()})
		return
	}

	if a.emitter != nil {
		ev := events.New(events.EventBinRestored, "")
		ev.Path = restoredTo
		ev.Fields = map[string]any{"entry_id": id, "forced": req.Force}
		a.emitter.Emit(r.Context(), ev)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          id,
		"restored_to": restoredTo,
	})
}

func (a *App) purgeBin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		All       bool   `json:"all,omitempty"`
		ID        string `json:"id,omitempty"`
		SessionID string `json:"session_id,omitempty"`
		OlderThan string `json:"older_than,omitempty"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
	}
	opts := recyclebin.PurgeOptions{
		All:       req.All,
		ID:        req.ID,
		SessionID: req.SessionID,
	}
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid older_than: " + err.Error()})
			return
		}
		opts.OlderThan = d
	}
	if !opts.All && opts.ID == "" && opts.SessionID == "" && opts.OlderThan == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "purge needs all, id, session_id or older_than"})
		return
	}

	purged, err := a.bin.Purge(opts)
	if err != nil {
		writeJSON(w, binErrorStatus(err), map[string]any{"error": err.Error()})
		return
	}

	if a.emitter != nil {
		ev := events.New(events.EventBinPurged, req.SessionID)
		ev.Fields = map[string]any{"purged": purged}
		if req.ID != "" {
			ev.Fields["entry_id"] = req.ID
		}
		a.emitter.Emit(r.Context(), ev)
	}
	writeJSON(w, http.StatusOK, map[string]any{"purged": purged})
}

func (a *App) binUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := a.bin.Usage()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	entries, err := a.bin.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_bytes": usage,
		"entries":     len(entries),
	})
}

func binErrorStatus(err error) int {
	switch {
	case errors.Is(err, recyclebin.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, recyclebin.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
