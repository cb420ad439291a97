// Package handlers provides HTTP handlers for the model version log.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/foresight/internal/domain"
	"github.com/aristath/foresight/internal/modules/training"
)

const defaultHistoryLimit = 20

// Handler handles model registry HTTP requests
type Handler struct {
	models *training.ModelRepository
	log    zerolog.Logger
}

// NewHandler creates a new model registry handler
func NewHandler(models *training.ModelRepository, log zerolog.Logger) *Handler {
	return &Handler{
		models: models,
		log:    log.With().Str("handler", "models").Logger(),
	}
}

// HandleListModels handles GET /api/models
func (h *Handler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "Limit must be a positive number")
			return
		}
		limit = parsed
	}

	models, err := h.models.History(limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load model history: "+err.Error())
		return
	}

	if models == nil {
		models = []domain.ModelArtifact{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": models,
	})
}

// HandleActiveModel handles GET /api/models/active
func (h *Handler) HandleActiveModel(w http.ResponseWriter, r *http.Request) {
	artifact, err := h.models.Active()
	if err != nil {
		if errors.Is(err, domain.ErrDataUnavailable) {
			h.writeError(w, http.StatusNotFound, "No active model")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Failed to load active model: "+err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, artifact)
}

// HandleActivateModel handles POST /api/models/{id}/activate.
// Flips the single active model to the requested version.
func (h *Handler) HandleActivateModel(w http.ResponseWriter, r *http.Request) {
	modelID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid model id")
		return
	}

	artifact, err := h.models.ByID(modelID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load model: "+err.Error())
		return
	}
	if artifact == nil {
		h.writeError(w, http.StatusNotFound, "Model not found")
		return
	}

	if err := h.models.SetActive(modelID); err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to activate model: "+err.Error())
		return
	}

	h.log.Info().Int64("model_id", modelID).Msg("Model activated via API")

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"model_id": modelID,
		"active":   true,
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
