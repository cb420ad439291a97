package training

import (
	"fmt"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/foresight/internal/domain"
)

// trainingRows builds one ticker's feature history with a sinusoidal ret1
// so labels carry signal
func trainingRows(ticker string, days int) []domain.FeatureVector {
	rows := make([]domain.FeatureVector, days)
	for i := 0; i < days; i++ {
		ret := 0.01 * math.Sin(float64(i)/3)
		rows[i] = domain.FeatureVector{
			Ticker: ticker,
			Date:   fmt.Sprintf("2026-%02d-%02d", 6+i/30, i%30+1),
			Ret1:   ret,
			Ret5:   ret * 5,
			Vol20:  0.015,
			RSI14:  50 + 20*math.Sin(float64(i)/3),
			ADX14:  25,
		}
	}
	return rows
}

func TestTrainerRejectsInsufficientSamples(t *testing.T) {
	repo := setupModelRepo(t)
	trainer := NewTrainer(repo, 50, zerolog.Nop())

	// 50 rows of one ticker yield 49 labeled samples, one short
	_, err := trainer.Train(trainingRows("AAA", 50))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientHistory)

	// Nothing was published
	_, err = repo.Active()
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestTrainerAcceptsExactMinimum(t *testing.T) {
	repo := setupModelRepo(t)
	trainer := NewTrainer(repo, 50, zerolog.Nop())

	// 51 rows of one ticker yield exactly 50 labeled samples, which meets
	// the threshold
	result, err := trainer.Train(trainingRows("AAA", 51))
	require.NoError(t, err)
	assert.Equal(t, 50, result.Samples)

	active, err := repo.Active()
	require.NoError(t, err)
	assert.Equal(t, result.ModelID, active.ModelID)
}

func TestTrainerPublishesModel(t *testing.T) {
	repo := setupModelRepo(t)
	trainer := NewTrainer(repo, 50, zerolog.Nop())

	result, err := trainer.Train(trainingRows("AAA", 60))
	require.NoError(t, err)

	assert.Equal(t, 59, result.Samples)
	assert.NotEmpty(t, result.FoldMAEs)
	assert.Greater(t, result.CVError, 0.0)

	active, err := repo.Active()
	require.NoError(t, err)
	assert.Equal(t, result.ModelID, active.ModelID)
	assert.Equal(t, "gbt_regressor", active.ModelType)
	assert.Equal(t, domain.FeatureColumns, active.FeatureColumns)
	assert.InDelta(t, result.CVError, active.CVError, 1e-12)

	// The stored parameters decode back into a scorable model
	model, err := UnmarshalGBT(active.Parameters)
	require.NoError(t, err)

	x, ok := trainingRows("AAA", 60)[0].Values(domain.FeatureColumns)
	require.True(t, ok)
	_, err = model.Predict(x)
	assert.NoError(t, err)
}

func TestTrainerRetrainReplacesActive(t *testing.T) {
	repo := setupModelRepo(t)
	trainer := NewTrainer(repo, 50, zerolog.Nop())

	first, err := trainer.Train(trainingRows("AAA", 60))
	require.NoError(t, err)

	second, err := trainer.Train(trainingRows("AAA", 70))
	require.NoError(t, err)
	require.NotEqual(t, first.ModelID, second.ModelID)

	active, err := repo.Active()
	require.NoError(t, err)
	assert.Equal(t, second.ModelID, active.ModelID)

	history, err := repo.History(10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestMakeLabels(t *testing.T) {
	rows := []domain.FeatureVector{
		{Ticker: "AAA", Date: "2026-08-01", Ret1: 0.01},
		{Ticker: "AAA", Date: "2026-08-02", Ret1: 0.02},
		{Ticker: "AAA", Date: "2026-08-03", Ret1: -0.01},
		{Ticker: "BBB", Date: "2026-08-02", Ret1: 0.03},
		{Ticker: "BBB", Date: "2026-08-03", Ret1: 0.04},
	}

	samples, err := makeLabels(rows)
	require.NoError(t, err)

	// The newest row of each ticker has no label
	require.Len(t, samples, 3)

	// Sorted chronologically, ties broken by ticker
	assert.Equal(t, "2026-08-01", samples[0].date)
	assert.Equal(t, "AAA", samples[0].ticker)
	assert.Equal(t, "2026-08-02", samples[1].date)
	assert.Equal(t, "AAA", samples[1].ticker)
	assert.Equal(t, "BBB", samples[2].ticker)

	// Each label is the same ticker's next ret1
	assert.InDelta(t, 0.02, samples[0].y, 1e-12)
	assert.InDelta(t, -0.01, samples[1].y, 1e-12)
	assert.InDelta(t, 0.04, samples[2].y, 1e-12)
}
