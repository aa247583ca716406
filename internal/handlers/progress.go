package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"movesia/internal/progress"
)

// ProgressHandler streams Status objects to observers over Server-Sent Events.
type ProgressHandler struct {
	bus *progress.Bus
}

// NewProgressHandler creates the SSE progress stream handler.
func NewProgressHandler(bus *progress.Bus) *ProgressHandler {
	return &ProgressHandler{bus: bus}
}

// ServeHTTP is the SSE endpoint (GET /api/progress).
func (h *ProgressHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.bus.Subscribe()
	defer h.bus.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(st)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: status\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
