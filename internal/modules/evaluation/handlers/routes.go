package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all evaluation routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/explain_gap", h.HandleExplainGap)
	r.Get("/accuracy_by_stock", h.HandleAccuracyByStock)
}
