package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipforge/clipforge/internal/progress"
)

const progressPollInterval = time.Second

// progressHandler streams job progress as server-sent events. State lives
// in the shared progress store, not the connection: a (re)connecting client
// first receives the last persisted snapshot, then live updates as the
// store changes. The stream ends after a terminal snapshot is delivered.
func progressHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteError(w, http.StatusInternalServerError, "streaming_unsupported", "")
			return
		}
		jobID := chi.URLParam(r, "id")

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		var last *progress.Snapshot
		emit := func(snap progress.Snapshot) {
			data, err := json.Marshal(snap)
			if err != nil {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			last = &snap
		}

		// Replay the persisted state first so a reconnect never starts blind.
		if snap, found, err := cfg.Progress.Get(r.Context(), jobID); err == nil && found {
			emit(snap)
			if snap.Terminal() {
				return
			}
		}

		ticker := time.NewTicker(progressPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
			}
			snap, found, err := cfg.Progress.Get(r.Context(), jobID)
			if err != nil || !found {
				continue
			}
			if last != nil && snap.Status == last.Status && snap.Time == last.Time && snap.UpdatedAt.Equal(last.UpdatedAt) {
				continue
			}
			emit(snap)
			if snap.Terminal() {
				return
			}
		}
	}
}
