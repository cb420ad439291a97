package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/foresight/internal/database"
	"github.com/aristath/foresight/internal/domain"
	"github.com/aristath/foresight/internal/modules/evaluation"
)

func setupHandler(t *testing.T) (*Handler, *evaluation.Repository) {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "results.db"),
		Profile: database.ProfileResults,
		Name:    "results",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	repo := evaluation.NewRepository(db.Conn(), zerolog.Nop())
	return NewHandler(repo, zerolog.Nop()), repo
}

func seedEvaluations(t *testing.T, repo *evaluation.Repository, targetDate string) {
	t.Helper()
	_, _, err := repo.Upsert([]domain.Evaluation{
		{
			Ticker: "AAA", TargetDate: targetDate, YPred: 0.01, YTrue: 0.02,
			AbsGap: 0.01, SignedGap: 0.01,
			Explanation:    "Key drivers (global attribution): ret1, rsi14",
			EvaluationDate: targetDate, ModelID: 1,
		},
		{
			Ticker: "BBB", TargetDate: targetDate, YPred: -0.01, YTrue: -0.02,
			AbsGap: 0.01, SignedGap: -0.01,
			Explanation:    "Key drivers (global attribution): ret1, rsi14",
			EvaluationDate: targetDate, ModelID: 1,
		},
	})
	require.NoError(t, err)
}

func TestExplainGapEmpty(t *testing.T) {
	handler, _ := setupHandler(t)

	req := httptest.NewRequest("GET", "/explain_gap", nil)
	rec := httptest.NewRecorder()
	handler.HandleExplainGap(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "No evaluations available yet", body["message"])
	assert.Empty(t, body["gaps"])
}

func TestExplainGapLatestDate(t *testing.T) {
	handler, repo := setupHandler(t)
	seedEvaluations(t, repo, "2026-08-10")
	seedEvaluations(t, repo, "2026-08-11")

	req := httptest.NewRequest("GET", "/explain_gap", nil)
	rec := httptest.NewRecorder()
	handler.HandleExplainGap(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2026-08-11", body["target_date"])
	assert.Equal(t, "Key drivers (global attribution): ret1, rsi14", body["explanation"])

	gaps, ok := body["gaps"].([]interface{})
	require.True(t, ok)
	assert.Len(t, gaps, 2)
}

func TestAccuracyByStock(t *testing.T) {
	handler, repo := setupHandler(t)
	// Large window keeps the fixed seed dates inside it regardless of the
	// wall clock
	seedEvaluations(t, repo, "2026-08-10")

	req := httptest.NewRequest("GET", "/accuracy_by_stock?window=36500", nil)
	rec := httptest.NewRecorder()
	handler.HandleAccuracyByStock(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(36500), body["window_days"])

	accuracy, ok := body["accuracy"].([]interface{})
	require.True(t, ok)
	require.Len(t, accuracy, 2)

	first, ok := accuracy[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "AAA", first["ticker"])
	assert.Equal(t, float64(1), first["evaluations"])
	assert.InDelta(t, 0.01, first["mae"].(float64), 1e-9)
	assert.InDelta(t, 1.0, first["directional_accuracy"].(float64), 1e-9)
}

func TestAccuracyByStockDefaultWindow(t *testing.T) {
	handler, _ := setupHandler(t)

	req := httptest.NewRequest("GET", "/accuracy_by_stock", nil)
	rec := httptest.NewRecorder()
	handler.HandleAccuracyByStock(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(defaultAccuracyWindowDays), body["window_days"])
	assert.Empty(t, body["accuracy"])
}

func TestAccuracyByStockInvalidWindow(t *testing.T) {
	handler, _ := setupHandler(t)

	for _, raw := range []string{"abc", "0", "-5"} {
		req := httptest.NewRequest("GET", "/accuracy_by_stock?window="+raw, nil)
		rec := httptest.NewRecorder()
		handler.HandleAccuracyByStock(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, "window=%s", raw)
	}
}

func TestRegisterRoutes(t *testing.T) {
	handler, _ := setupHandler(t)

	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	for _, path := range []string{"/explain_gap", "/accuracy_by_stock"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
