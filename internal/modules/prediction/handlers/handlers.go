// Package handlers provides HTTP handlers for serving forecasts.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/foresight/internal/domain"
	"github.com/aristath/foresight/internal/modules/prediction"
)

// Handler handles prediction HTTP requests
type Handler struct {
	predictions *prediction.Repository
	log         zerolog.Logger
}

// NewHandler creates a new prediction handler
func NewHandler(predictions *prediction.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		predictions: predictions,
		log:         log.With().Str("handler", "prediction").Logger(),
	}
}

// HandlePredictToday handles GET /predict_today.
// Returns the most recent batch of forecasts, one per ticker.
func (h *Handler) HandlePredictToday(w http.ResponseWriter, r *http.Request) {
	preds, err := h.predictions.Latest()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load predictions: "+err.Error())
		return
	}

	if len(preds) == 0 {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"predictions": []domain.Prediction{},
			"message":     "No predictions available yet",
		})
		return
	}

	response := map[string]interface{}{
		"prediction_date": preds[0].PredictionDate,
		"target_date":     preds[0].TargetDate,
		"model_id":        preds[0].ModelID,
		"predictions":     preds,
		"metadata": map[string]interface{}{
			"count":     len(preds),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
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
