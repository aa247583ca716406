package handlers

import (
	"net/http"

	"movesia/internal/maintenance"
)

// AdminHandler exposes the maintenance wipe operation.
type AdminHandler struct {
	coordinator *maintenance.Coordinator
}

// NewAdminHandler creates the admin handler.
func NewAdminHandler(c *maintenance.Coordinator) *AdminHandler {
	return &AdminHandler{coordinator: c}
}

// Wipe handles POST /api/admin/wipe.
func (h *AdminHandler) Wipe(w http.ResponseWriter, r *http.Request) {
	res := h.coordinator.WipeAll(r.Context())
	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}
