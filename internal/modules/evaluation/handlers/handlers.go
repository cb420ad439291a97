// Package handlers provides HTTP handlers for forecast accuracy reporting.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/foresight/internal/domain"
	"github.com/aristath/foresight/internal/modules/evaluation"
)

// defaultAccuracyWindowDays bounds /accuracy_by_stock when no window is given
const defaultAccuracyWindowDays = 30

// Handler handles evaluation HTTP requests
type Handler struct {
	evaluations *evaluation.Repository
	log         zerolog.Logger
}

// NewHandler creates a new evaluation handler
func NewHandler(evaluations *evaluation.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		evaluations: evaluations,
		log:         log.With().Str("handler", "evaluation").Logger(),
	}
}

// HandleExplainGap handles GET /explain_gap.
// Returns the most recent prediction-vs-realized gaps with the model
// driver explanation attached.
func (h *Handler) HandleExplainGap(w http.ResponseWriter, r *http.Request) {
	targetDate, err := h.evaluations.LatestTargetDate()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load evaluations: "+err.Error())
		return
	}

	if targetDate == "" {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"gaps":    []domain.Evaluation{},
			"message": "No evaluations available yet",
		})
		return
	}

	evals, err := h.evaluations.ForTargetDate(targetDate)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load evaluations: "+err.Error())
		return
	}

	explanation := ""
	if len(evals) > 0 {
		explanation = evals[0].Explanation
	}

	response := map[string]interface{}{
		"target_date": targetDate,
		"explanation": explanation,
		"gaps":        evals,
		"metadata": map[string]interface{}{
			"count":     len(evals),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleAccuracyByStock handles GET /accuracy_by_stock?window=N.
// Aggregates per-ticker error metrics over the trailing N days.
func (h *Handler) HandleAccuracyByStock(w http.ResponseWriter, r *http.Request) {
	windowDays := defaultAccuracyWindowDays
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "Window must be a positive number of days")
			return
		}
		windowDays = parsed
	}

	since := time.Now().UTC().AddDate(0, 0, -windowDays).Format(domain.DateFormat)

	stats, err := h.evaluations.AccuracyByTicker(since)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to aggregate accuracy: "+err.Error())
		return
	}

	if stats == nil {
		stats = []evaluation.TickerAccuracy{}
	}

	response := map[string]interface{}{
		"window_days": windowDays,
		"since":       since,
		"accuracy":    stats,
		"metadata": map[string]interface{}{
			"tickers":   len(stats),
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
