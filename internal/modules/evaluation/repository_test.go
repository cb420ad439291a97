package evaluation

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/foresight/internal/database"
	"github.com/aristath/foresight/internal/domain"
)

func setupEvalRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "results.db"),
		Profile: database.ProfileResults,
		Name:    "results",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return NewRepository(db.Conn(), zerolog.Nop())
}

func evalRow(ticker, targetDate string, yPred, yTrue float64) domain.Evaluation {
	return domain.Evaluation{
		Ticker:         ticker,
		TargetDate:     targetDate,
		YPred:          yPred,
		YTrue:          yTrue,
		AbsGap:         math.Abs(yTrue - yPred),
		SignedGap:      yTrue - yPred,
		Explanation:    "Key drivers (global attribution): ret1, rsi14",
		EvaluationDate: "2026-08-12",
		ModelID:        1,
	}
}

func TestEvaluationRepositoryUpsert(t *testing.T) {
	repo := setupEvalRepo(t)

	inserted, modified, err := repo.Upsert([]domain.Evaluation{
		evalRow("AAA", "2026-08-11", 0.01, 0.02),
		evalRow("BBB", "2026-08-11", -0.01, -0.02),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	assert.Equal(t, 0, modified)

	// Rerun for the same target date replaces in place
	updated := evalRow("AAA", "2026-08-11", 0.015, 0.02)
	inserted, modified, err = repo.Upsert([]domain.Evaluation{updated})
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	assert.Equal(t, 1, modified)

	rows, err := repo.ForTargetDate("2026-08-11")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "AAA", rows[0].Ticker)
	assert.InDelta(t, 0.015, rows[0].YPred, 1e-12)
	assert.Equal(t, "BBB", rows[1].Ticker)
}

func TestEvaluationRepositoryLatestTargetDate(t *testing.T) {
	repo := setupEvalRepo(t)

	date, err := repo.LatestTargetDate()
	require.NoError(t, err)
	assert.Equal(t, "", date)

	_, _, err = repo.Upsert([]domain.Evaluation{
		evalRow("AAA", "2026-08-11", 0.01, 0.02),
		evalRow("AAA", "2026-08-12", 0.01, 0.02),
	})
	require.NoError(t, err)

	date, err = repo.LatestTargetDate()
	require.NoError(t, err)
	assert.Equal(t, "2026-08-12", date)
}

func TestEvaluationRepositoryAccuracyByTicker(t *testing.T) {
	repo := setupEvalRepo(t)

	_, _, err := repo.Upsert([]domain.Evaluation{
		evalRow("AAA", "2026-08-11", 0.01, 0.02),  // gap 0.01, direction hit
		evalRow("AAA", "2026-08-12", 0.01, -0.02), // gap 0.03, direction miss
		evalRow("BBB", "2026-08-11", -0.01, -0.03),
		// Outside the window, must not contribute
		evalRow("AAA", "2026-07-01", 0.5, -0.5),
	})
	require.NoError(t, err)

	accuracy, err := repo.AccuracyByTicker("2026-08-01")
	require.NoError(t, err)
	require.Len(t, accuracy, 2)

	aaa := accuracy[0]
	assert.Equal(t, "AAA", aaa.Ticker)
	assert.Equal(t, 2, aaa.Evaluations)
	assert.InDelta(t, 0.02, aaa.MAE, 1e-12)
	assert.InDelta(t, math.Sqrt((0.01*0.01+0.03*0.03)/2), aaa.RMSE, 1e-12)
	assert.InDelta(t, 0.5, aaa.DirectionalAccuracy, 1e-12)

	bbb := accuracy[1]
	assert.Equal(t, "BBB", bbb.Ticker)
	assert.Equal(t, 1, bbb.Evaluations)
	assert.InDelta(t, 0.02, bbb.MAE, 1e-12)
	assert.InDelta(t, 1.0, bbb.DirectionalAccuracy, 1e-12)
}

func TestEvaluationRepositoryAccuracyEmpty(t *testing.T) {
	repo := setupEvalRepo(t)

	accuracy, err := repo.AccuracyByTicker("2026-08-01")
	require.NoError(t, err)
	assert.Empty(t, accuracy)
}
