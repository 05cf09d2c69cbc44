package handlers

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RunTimeout bounds a synchronous run request
const RunTimeout = 30 * time.Minute

// RegisterRoutes registers run and strategy routes under /api/v1
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.With(middleware.Timeout(RunTimeout)).Post("/", h.HandleCreate)
			r.Get("/", h.HandleList)
			r.Get("/{id}", h.HandleGet)
			r.Get("/{id}/report", h.HandleReport)
		})
		r.Get("/strategy/profiles", h.HandleProfiles)
	})
}
