// Package http wires the host's chi router.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"movesia/internal/handlers"
	"movesia/internal/orchestrator"
)

// NewRouter builds the HTTP surface over a booted runtime.
func NewRouter(rt *orchestrator.Runtime) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware)

	eventsHandler := handlers.NewEventsHandler(rt)
	progressHandler := handlers.NewProgressHandler(rt.Bus)
	searchHandler := handlers.NewSearchHandler(rt.Embedder, rt.Vectors)
	adminHandler := handlers.NewAdminHandler(rt.Coordinator)
	healthHandler := handlers.NewHealthHandler(rt.Catalog, rt.Vectors)

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodPost, "/events", eventsHandler)
		r.Method(http.MethodGet, "/progress", progressHandler)
		r.Method(http.MethodGet, "/search", searchHandler)
		r.Post("/admin/wipe", adminHandler.Wipe)
	})

	r.Method(http.MethodGet, "/healthz", healthHandler)

	return r
}
