package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all model registry routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/models", func(r chi.Router) {
		r.Get("/", h.HandleListModels)
		r.Get("/active", h.HandleActiveModel)
		r.Post("/{id}/activate", h.HandleActivateModel)
	})
}
