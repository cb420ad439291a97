package prediction

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/foresight/internal/database"
	"github.com/aristath/foresight/internal/domain"
	"github.com/aristath/foresight/internal/modules/features"
	"github.com/aristath/foresight/internal/modules/training"
)

type predictorFixture struct {
	models   *training.ModelRepository
	features *features.Repository
	preds    *Repository
}

func setupPredictor(t *testing.T) (*Predictor, *predictorFixture) {
	t.Helper()
	dir := t.TempDir()

	resultsDB, err := database.New(database.Config{
		Path:    filepath.Join(dir, "results.db"),
		Profile: database.ProfileResults,
		Name:    "results",
	})
	require.NoError(t, err)
	require.NoError(t, resultsDB.Migrate())
	t.Cleanup(func() { resultsDB.Close() })

	featuresDB, err := database.New(database.Config{
		Path:    filepath.Join(dir, "features.db"),
		Profile: database.ProfileStandard,
		Name:    "features",
	})
	require.NoError(t, err)
	require.NoError(t, featuresDB.Migrate())
	t.Cleanup(func() { featuresDB.Close() })

	fx := &predictorFixture{
		models:   training.NewModelRepository(resultsDB.Conn(), zerolog.Nop()),
		features: features.NewRepository(featuresDB.Conn(), zerolog.Nop()),
		preds:    NewRepository(resultsDB.Conn(), zerolog.Nop()),
	}
	return NewPredictor(fx.models, fx.features, fx.preds, zerolog.Nop()), fx
}

// publishModel fits a small model on synthetic rows and activates it
func publishModel(t *testing.T, repo *training.ModelRepository) int64 {
	t.Helper()

	X := make([][]float64, 40)
	y := make([]float64, 40)
	for i := range X {
		x := make([]float64, len(domain.FeatureColumns))
		x[0] = float64(i%7) * 0.001
		x[1] = float64(i%5) * 0.002
		X[i] = x
		y[i] = 0.5*x[0] - 0.2*x[1]
	}

	params := training.GBTParams{Trees: 50, LearningRate: 0.1, Subsample: 1.0, ColSample: 1.0, MaxDepth: 3, MinLeaf: 5, Seed: 1}
	model, err := training.TrainGBT(X, y, params)
	require.NoError(t, err)
	parameters, err := model.Marshal()
	require.NoError(t, err)

	id, err := repo.Publish(&domain.ModelArtifact{
		ModelType:      "gbt_regressor",
		FeatureColumns: append([]string(nil), domain.FeatureColumns...),
		Parameters:     parameters,
		TrainingDate:   "2026-08-01",
		CVError:        0.01,
	})
	require.NoError(t, err)
	return id
}

func seedFeatures(t *testing.T, repo *features.Repository, tickers []string, dates []string) {
	t.Helper()
	var rows []domain.FeatureVector
	for di, date := range dates {
		for ti, ticker := range tickers {
			rows = append(rows, domain.FeatureVector{
				Ticker: ticker,
				Date:   date,
				Ret1:   0.001 * float64(di+ti),
				Ret5:   0.002,
				Vol20:  0.015,
				RSI14:  55,
				ADX14:  25,
			})
		}
	}
	_, _, err := repo.Upsert(rows)
	require.NoError(t, err)
}

func TestPredictorNoModel(t *testing.T) {
	predictor, _ := setupPredictor(t)

	_, err := predictor.Run("1970-01-01")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestPredictorNoFeatures(t *testing.T) {
	predictor, fx := setupPredictor(t)
	publishModel(t, fx.models)

	_, err := predictor.Run("1970-01-01")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestPredictorColumnMismatch(t *testing.T) {
	predictor, fx := setupPredictor(t)

	_, err := fx.models.Publish(&domain.ModelArtifact{
		ModelType:      "gbt_regressor",
		FeatureColumns: []string{"ret1", "rsi14"},
		Parameters:     []byte{0x01},
		TrainingDate:   "2026-08-01",
		CVError:        0.01,
	})
	require.NoError(t, err)

	_, err = predictor.Run("1970-01-01")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInputContractMismatch)
}

func TestPredictorRun(t *testing.T) {
	predictor, fx := setupPredictor(t)
	modelID := publishModel(t, fx.models)

	tickers := []string{"AAA", "BBB", "CCC"}
	dates := make([]string, 10)
	for i := range dates {
		dates[i] = fmt.Sprintf("2026-08-%02d", i+1)
	}
	seedFeatures(t, fx.features, tickers, dates)

	result, err := predictor.Run("1970-01-01")
	require.NoError(t, err)

	assert.Equal(t, "2026-08-10", result.PredictionDate)
	assert.Equal(t, "2026-08-11", result.TargetDate)
	assert.Equal(t, modelID, result.ModelID)
	require.Len(t, result.Predictions, 3)

	for _, p := range result.Predictions {
		assert.Equal(t, "2026-08-10", p.PredictionDate)
		assert.Equal(t, "2026-08-11", p.TargetDate)
		assert.Equal(t, modelID, p.ModelID)
		assert.Greater(t, p.Confidence, 0.0)
	}

	stored, err := fx.preds.Latest()
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "AAA", stored[0].Ticker)
	assert.Equal(t, "BBB", stored[1].Ticker)
	assert.Equal(t, "CCC", stored[2].Ticker)
}

func TestPredictorRerunReplaces(t *testing.T) {
	predictor, fx := setupPredictor(t)
	publishModel(t, fx.models)
	seedFeatures(t, fx.features, []string{"AAA"}, []string{"2026-08-01", "2026-08-02"})

	_, err := predictor.Run("1970-01-01")
	require.NoError(t, err)

	_, err = predictor.Run("1970-01-01")
	require.NoError(t, err)

	stored, err := fx.preds.ForDate("2026-08-02")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestConfidenceInverseToGap(t *testing.T) {
	// Far from the trailing mean means low confidence
	near := 1.0 / (confidenceEpsilon + 0.001)
	far := 1.0 / (confidenceEpsilon + 0.05)
	assert.Greater(t, near, far)
}

func TestCheckColumns(t *testing.T) {
	require.NoError(t, checkColumns(domain.FeatureColumns))

	err := checkColumns(domain.FeatureColumns[:5])
	assert.ErrorIs(t, err, domain.ErrInputContractMismatch)

	reordered := append([]string(nil), domain.FeatureColumns...)
	reordered[0], reordered[1] = reordered[1], reordered[0]
	err = checkColumns(reordered)
	assert.ErrorIs(t, err, domain.ErrInputContractMismatch)
}
