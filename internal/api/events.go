package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/safesh/safesh/pkg/types"
)

func (a *App) searchEvents(w http.ResponseWriter, r *http.Request) {
	q, err := parseEventQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	evs, err := a.events.QueryEvents(r.Context(), q)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

func (a *App) streamSessionEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := a.activeSession(w, r)
	if !ok {
		return
	}
	a.streamEvents(w, r, s.ID)
}

// streamAllEvents is the firehose: every session's events on one stream.
func (a *App) streamAllEvents(w http.ResponseWriter, r *http.Request) {
	a.streamEvents(w, r, "")
}

func (a *App) streamEvents(w http.ResponseWriter, r *http.Request, sessionID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "stream unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := a.broker.Subscribe(sessionID, 200)
	defer a.broker.Unsubscribe(sessionID, ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			if !matchesTypeFilter(r, ev) {
				continue
			}
			_, _ = w.Write([]byte("data: "))
			if err := enc.Encode(ev); err != nil {
				return
			}
			_, _ = w.Write([]byte("\n"))
			flusher.Flush()
		}
	}
}

// matchesTypeFilter applies an optional ?type=a,b,c filter to live streams.
func matchesTypeFilter(r *http.Request, ev types.Event) bool {
	raw := r.URL.Query().Get("type")
	if raw == "" {
		return true
	}
	for _, t := range strings.Split(raw, ",") {
		if ev.Type == t {
			return true
		}
	}
	return false
}
