package handlers

import (
	"net/http"

	"movesia/internal/catalog"
	"movesia/internal/vectorstore"
)

// HealthHandler reports catalog and vector backend liveness.
type HealthHandler struct {
	catalog *catalog.Store
	vectors vectorstore.VectorIndex
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(cat *catalog.Store, vectors vectorstore.VectorIndex) *HealthHandler {
	return &HealthHandler{catalog: cat, vectors: vectors}
}

// ServeHTTP handles GET /healthz.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.catalog.DB().PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}

	body := map[string]any{"status": "ok"}
	if n, err := h.vectors.CountPoints(ctx); err == nil {
		body["qdrantPoints"] = n
	} else {
		body["vectorBackend"] = "unavailable"
	}
	writeJSON(w, http.StatusOK, body)
}
