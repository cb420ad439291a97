// Package prediction scores the latest feature snapshot with the active
// model and stores the resulting next-day return predictions.
package prediction

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/foresight/internal/domain"
	"github.com/aristath/foresight/internal/modules/features"
	"github.com/aristath/foresight/internal/modules/training"
)

// confidenceEpsilon keeps the confidence proxy finite when a prediction
// lands exactly on the trailing mean return
const confidenceEpsilon = 1e-6

// trailingWindow caps the trailing mean-return window per ticker
const trailingWindow = 20

// Predictor generates predictions from the active model and the most recent
// feature rows. It is a read-only consumer of the model store.
type Predictor struct {
	models   *training.ModelRepository
	features *features.Repository
	preds    *Repository
	log      zerolog.Logger
}

// NewPredictor creates a new predictor
func NewPredictor(models *training.ModelRepository, feats *features.Repository, preds *Repository, log zerolog.Logger) *Predictor {
	return &Predictor{
		models:   models,
		features: feats,
		preds:    preds,
		log:      log.With().Str("component", "predictor").Logger(),
	}
}

// Result summarizes one prediction run
type Result struct {
	PredictionDate string
	TargetDate     string
	ModelID        int64
	Predictions    []domain.Prediction
}

// Run scores every ticker row of the most recent feature date. Fails with
// ErrDataUnavailable when no model is active or the feature store has no
// rows; fails with ErrInputContractMismatch when the artifact's recorded
// feature columns do not match the current schema.
//
// Reruns for the same date replace the previous predictions (keyed by
// ticker, prediction date, and model id).
func (p *Predictor) Run(lookbackSince string) (*Result, error) {
	artifact, err := p.models.Active()
	if err != nil {
		return nil, fmt.Errorf("no model: %w", err)
	}

	if err := checkColumns(artifact.FeatureColumns); err != nil {
		return nil, err
	}

	model, err := training.UnmarshalGBT(artifact.Parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %d: %w", artifact.ModelID, err)
	}

	latest, err := p.features.LatestDate()
	if err != nil {
		return nil, err
	}
	if latest == "" {
		return nil, fmt.Errorf("no features: %w", domain.ErrDataUnavailable)
	}

	rows, err := p.features.RowsForDate(latest)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no features for %s: %w", latest, domain.ErrDataUnavailable)
	}

	history, err := p.features.RowsSince(lookbackSince)
	if err != nil {
		return nil, err
	}
	trailingMeans := trailingMeanReturns(history, latest)

	targetDate := domain.NextDay(latest)
	predictions := make([]domain.Prediction, 0, len(rows))
	for _, row := range rows {
		x, ok := row.Values(artifact.FeatureColumns)
		if !ok {
			return nil, fmt.Errorf("%w: feature row lacks column required by model %d",
				domain.ErrInputContractMismatch, artifact.ModelID)
		}

		yPred, err := model.Predict(x)
		if err != nil {
			return nil, fmt.Errorf("failed to score %s: %w", row.Ticker, err)
		}

		// Heuristic confidence proxy, not a calibrated probability: how far
		// the prediction sits from the ticker's recent mean return
		mean := trailingMeans[row.Ticker]
		confidence := 1.0 / (confidenceEpsilon + math.Abs(yPred-mean))

		predictions = append(predictions, domain.Prediction{
			Ticker:         row.Ticker,
			PredictionDate: latest,
			TargetDate:     targetDate,
			YPred:          yPred,
			Confidence:     confidence,
			ModelID:        artifact.ModelID,
		})
	}

	if _, _, err := p.preds.Upsert(predictions); err != nil {
		return nil, err
	}

	p.log.Info().
		Str("prediction_date", latest).
		Str("target_date", targetDate).
		Int64("model_id", artifact.ModelID).
		Int("tickers", len(predictions)).
		Msg("Predictions generated")

	return &Result{
		PredictionDate: latest,
		TargetDate:     targetDate,
		ModelID:        artifact.ModelID,
		Predictions:    predictions,
	}, nil
}

// checkColumns verifies the artifact's input contract against the current
// feature schema. A mismatch is fatal, never a silent reorder.
func checkColumns(recorded []string) error {
	if len(recorded) != len(domain.FeatureColumns) {
		return fmt.Errorf("%w: model records %d columns, schema has %d",
			domain.ErrInputContractMismatch, len(recorded), len(domain.FeatureColumns))
	}
	for i, col := range recorded {
		if col != domain.FeatureColumns[i] {
			return fmt.Errorf("%w: column %d is %q, schema has %q",
				domain.ErrInputContractMismatch, i, col, domain.FeatureColumns[i])
		}
	}
	return nil
}

// trailingMeanReturns computes each ticker's mean ret1 over its most recent
// observations up to and including asOf, window capped at trailingWindow
func trailingMeanReturns(history []domain.FeatureVector, asOf string) map[string]float64 {
	byTicker := make(map[string][]domain.FeatureVector)
	for _, row := range history {
		if row.Date > asOf {
			continue
		}
		byTicker[row.Ticker] = append(byTicker[row.Ticker], row)
	}

	means := make(map[string]float64, len(byTicker))
	for ticker, series := range byTicker {
		sort.Slice(series, func(i, j int) bool { return series[i].Date < series[j].Date })
		start := 0
		if len(series) > trailingWindow {
			start = len(series) - trailingWindow
		}
		sum := 0.0
		for _, row := range series[start:] {
			sum += row.Ret1
		}
		means[ticker] = sum / float64(len(series)-start)
	}
	return means
}
