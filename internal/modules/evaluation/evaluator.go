package evaluation

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/foresight/internal/domain"
	"github.com/aristath/foresight/internal/modules/features"
	"github.com/aristath/foresight/internal/modules/prediction"
	"github.com/aristath/foresight/internal/modules/training"
)

// Evaluator joins stored predictions to the next day's realized returns
// and writes evaluation records with a shared global explanation. It is a
// read-only consumer of predictions, features, and model artifacts.
type Evaluator struct {
	features *features.Repository
	preds    *prediction.Repository
	models   *training.ModelRepository
	evals    *Repository
	log      zerolog.Logger
}

// NewEvaluator creates a new evaluator
func NewEvaluator(feats *features.Repository, preds *prediction.Repository, models *training.ModelRepository, evals *Repository, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		features: feats,
		preds:    preds,
		models:   models,
		evals:    evals,
		log:      log.With().Str("component", "evaluator").Logger(),
	}
}

// Metrics are the aggregate error metrics of one evaluation run
type Metrics struct {
	MAE                 float64 `json:"mae"`
	RMSE                float64 `json:"rmse"`
	DirectionalAccuracy float64 `json:"directional_accuracy"`
	Evaluated           int     `json:"evaluated"`
}

// Result summarizes one evaluation run
type Result struct {
	PredictionDate string
	TargetDate     string
	Metrics        Metrics
	Explanation    string
	Evaluations    []domain.Evaluation
}

// Run evaluates the predictions of the second-latest feature date against
// the realized returns of the latest one. Requires at least two distinct
// feature dates in the window; predictions without a realized match are
// dropped, never imputed.
//
// Explanation failure degrades to an explicit unavailable marker; the
// metrics never depend on explanation success.
func (e *Evaluator) Run(lookbackSince string) (*Result, error) {
	dates, err := e.features.DistinctDates(lookbackSince)
	if err != nil {
		return nil, err
	}
	if len(dates) < 2 {
		return nil, fmt.Errorf("%w: need at least two feature dates, found %d",
			domain.ErrInsufficientHistory, len(dates))
	}

	nextDay := dates[len(dates)-1]
	prevDay := dates[len(dates)-2]

	preds, err := e.preds.ForDate(prevDay)
	if err != nil {
		return nil, err
	}
	if len(preds) == 0 {
		return nil, fmt.Errorf("no predictions for %s: %w", prevDay, domain.ErrDataUnavailable)
	}
	// A retrain between prediction runs leaves older generations keyed by
	// their model id; only the newest generation is scored
	preds = latestGeneration(preds)

	realizedRows, err := e.features.RowsForDate(nextDay)
	if err != nil {
		return nil, err
	}
	if len(realizedRows) == 0 {
		return nil, fmt.Errorf("no realized returns for %s: %w", nextDay, domain.ErrDataUnavailable)
	}

	realized := make(map[string]float64, len(realizedRows))
	for _, row := range realizedRows {
		realized[row.Ticker] = row.Ret1
	}

	explanation := e.explain(preds[0].ModelID, prevDay)

	evaluationDate := time.Now().UTC().Format(domain.DateFormat)
	var evaluations []domain.Evaluation
	sumAbs, sumSq, signMatches := 0.0, 0.0, 0
	for _, p := range preds {
		yTrue, ok := realized[p.Ticker]
		if !ok {
			// No realized return for this ticker; dropped, not imputed
			continue
		}

		absGap := math.Abs(yTrue - p.YPred)
		sumAbs += absGap
		sumSq += (yTrue - p.YPred) * (yTrue - p.YPred)
		if sameSign(p.YPred, yTrue) {
			signMatches++
		}

		evaluations = append(evaluations, domain.Evaluation{
			Ticker:         p.Ticker,
			TargetDate:     nextDay,
			YPred:          p.YPred,
			YTrue:          yTrue,
			AbsGap:         absGap,
			SignedGap:      yTrue - p.YPred,
			Explanation:    explanation,
			EvaluationDate: evaluationDate,
			ModelID:        p.ModelID,
		})
	}

	if len(evaluations) == 0 {
		return nil, fmt.Errorf("no predictions matched realized returns: %w", domain.ErrDataUnavailable)
	}

	if _, _, err := e.evals.Upsert(evaluations); err != nil {
		return nil, err
	}

	n := float64(len(evaluations))
	metrics := Metrics{
		MAE:                 sumAbs / n,
		RMSE:                math.Sqrt(sumSq / n),
		DirectionalAccuracy: float64(signMatches) / n,
		Evaluated:           len(evaluations),
	}

	e.log.Info().
		Str("prediction_date", prevDay).
		Str("target_date", nextDay).
		Int("evaluated", metrics.Evaluated).
		Float64("mae", metrics.MAE).
		Float64("rmse", metrics.RMSE).
		Float64("directional_accuracy", metrics.DirectionalAccuracy).
		Msg("Evaluation complete")

	return &Result{
		PredictionDate: prevDay,
		TargetDate:     nextDay,
		Metrics:        metrics,
		Explanation:    explanation,
		Evaluations:    evaluations,
	}, nil
}

// explain computes the shared global attribution text for the run. Any
// failure degrades to the unavailable marker; evaluation always proceeds.
func (e *Evaluator) explain(modelID int64, priorDay string) string {
	artifact, err := e.models.ByID(modelID)
	if err != nil || artifact == nil {
		e.log.Warn().Err(err).Int64("model_id", modelID).Msg("Explanation degraded: model artifact unavailable")
		return unavailableExplanation
	}

	model, err := training.UnmarshalGBT(artifact.Parameters)
	if err != nil {
		e.log.Warn().Err(err).Int64("model_id", modelID).Msg("Explanation degraded: model decode failed")
		return unavailableExplanation
	}

	rows, err := e.features.RowsForDate(priorDay)
	if err != nil || len(rows) == 0 {
		e.log.Warn().Err(err).Str("date", priorDay).Msg("Explanation degraded: no prior-day features")
		return unavailableExplanation
	}

	ranking, err := GlobalAttribution(model, rows, artifact.FeatureColumns, TopKFeatures)
	if err != nil {
		e.log.Warn().Err(err).Msg("Explanation degraded: attribution failed")
		return unavailableExplanation
	}

	return ExplanationText(ranking)
}

// latestGeneration keeps only the predictions made by the highest model id
// in the batch
func latestGeneration(preds []domain.Prediction) []domain.Prediction {
	var newest int64
	for _, p := range preds {
		if p.ModelID > newest {
			newest = p.ModelID
		}
	}

	kept := preds[:0]
	for _, p := range preds {
		if p.ModelID == newest {
			kept = append(kept, p)
		}
	}
	return kept
}

// sameSign reports whether predicted and realized returns agree in
// direction. Zero only matches zero, mirroring a strict sign comparison.
func sameSign(a, b float64) bool {
	return sign(a) == sign(b)
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
