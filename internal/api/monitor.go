package api

import (
	"net/http"
	"strconv"

	"github.com/safesh/safesh/internal/monitor"
)

// monitorSnapshot serves a resource snapshot: JSON by default, the rendered
// plain-text report with ?format=text.
func (a *App) monitorSnapshot(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	opts := monitor.Options{
		Disk:    v.Get("disk") == "true" || v.Get("disk") == "1",
		Network: v.Get("network") == "true" || v.Get("network") == "1",
	}
	if p := v.Get("processes"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid processes"})
			return
		}
		opts.TopProcesses = n
	}

	snap, err := a.mon.Snapshot(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if v.Get("format") == "text" {
		writeText(w, http.StatusOK, snap.Render())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
