package training

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/foresight/internal/domain"
)

// MaxFolds caps the adaptive cross-validation fold count
const MaxFolds = 5

// labeledSample pairs one feature row with its next-observation label
type labeledSample struct {
	ticker string
	date   string
	x      []float64
	y      float64
}

// Trainer fits the model on engineered features and publishes the resulting
// artifact to the model store.
type Trainer struct {
	models     *ModelRepository
	minSamples int
	log        zerolog.Logger
}

// NewTrainer creates a new trainer
func NewTrainer(models *ModelRepository, minSamples int, log zerolog.Logger) *Trainer {
	return &Trainer{
		models:     models,
		minSamples: minSamples,
		log:        log.With().Str("component", "trainer").Logger(),
	}
}

// Result summarizes one training run
type Result struct {
	ModelID  int64
	CVError  float64
	FoldMAEs []float64
	Samples  int
}

// Train builds labels from the feature history, runs time-series
// cross-validation for the diagnostic CV error, fits the final model on all
// labeled samples, and publishes it as the new active artifact.
//
// Aborts with ErrInsufficientHistory when fewer labeled samples exist than
// the configured minimum; no artifact is produced in that case.
func (t *Trainer) Train(rows []domain.FeatureVector) (*Result, error) {
	samples, err := makeLabels(rows)
	if err != nil {
		return nil, err
	}

	if len(samples) < t.minSamples {
		return nil, fmt.Errorf("%w: %d labeled samples, need %d",
			domain.ErrInsufficientHistory, len(samples), t.minSamples)
	}

	t.log.Info().Int("samples", len(samples)).Msg("Training data prepared")

	X := make([][]float64, len(samples))
	y := make([]float64, len(samples))
	for i, s := range samples {
		X[i] = s.x
		y[i] = s.y
	}

	foldMAEs, err := t.crossValidate(X, y)
	if err != nil {
		return nil, err
	}
	cvError := stat.Mean(foldMAEs, nil)
	t.log.Info().Float64("cv_mae", cvError).Int("folds", len(foldMAEs)).Msg("Cross-validation complete")

	model, err := TrainGBT(X, y, FinalParams())
	if err != nil {
		return nil, fmt.Errorf("failed to fit final model: %w", err)
	}

	parameters, err := model.Marshal()
	if err != nil {
		return nil, err
	}

	artifact := &domain.ModelArtifact{
		ModelType:      "gbt_regressor",
		FeatureColumns: append([]string(nil), domain.FeatureColumns...),
		Parameters:     parameters,
		TrainingDate:   time.Now().UTC().Format(domain.DateFormat),
		CVError:        cvError,
	}

	modelID, err := t.models.Publish(artifact)
	if err != nil {
		return nil, err
	}

	t.log.Info().Int64("model_id", modelID).Float64("cv_mae", cvError).Msg("Model published and activated")

	return &Result{
		ModelID:  modelID,
		CVError:  cvError,
		FoldMAEs: foldMAEs,
		Samples:  len(samples),
	}, nil
}

// crossValidate runs the chronological k-fold split and reports one
// held-out MAE per fold. The number is diagnostic: only one model
// configuration is ever fit, so nothing is selected by it.
func (t *Trainer) crossValidate(X [][]float64, y []float64) ([]float64, error) {
	k := AdaptiveFoldCount(len(y), MaxFolds)
	folds, err := TimeSeriesSplit(len(y), k)
	if err != nil {
		return nil, fmt.Errorf("failed to split training data: %w", err)
	}

	maes := make([]float64, 0, len(folds))
	for fi, fold := range folds {
		trainX := gather(X, fold.Train)
		trainY := gatherF(y, fold.Train)

		model, err := TrainGBT(trainX, trainY, CVParams())
		if err != nil {
			return nil, fmt.Errorf("failed to fit fold %d: %w", fi+1, err)
		}

		sumAbs := 0.0
		for _, ti := range fold.Test {
			pred, err := model.Predict(X[ti])
			if err != nil {
				return nil, fmt.Errorf("failed to score fold %d: %w", fi+1, err)
			}
			sumAbs += math.Abs(y[ti] - pred)
		}
		mae := sumAbs / float64(len(fold.Test))
		maes = append(maes, mae)
		t.log.Debug().Int("fold", fi+1).Float64("mae", mae).Msg("Fold evaluated")
	}
	return maes, nil
}

// makeLabels pairs each row with the next observation's ret1 for the same
// ticker (shift by one sorted observation, not calendar day). The most
// recent row per ticker has no label and is dropped. The returned samples
// are sorted chronologically so the fold split respects time.
func makeLabels(rows []domain.FeatureVector) ([]labeledSample, error) {
	byTicker := make(map[string][]domain.FeatureVector)
	for _, row := range rows {
		byTicker[row.Ticker] = append(byTicker[row.Ticker], row)
	}

	var samples []labeledSample
	for ticker, series := range byTicker {
		sort.Slice(series, func(i, j int) bool { return series[i].Date < series[j].Date })
		for i := 0; i < len(series)-1; i++ {
			x, ok := series[i].Values(domain.FeatureColumns)
			if !ok {
				return nil, fmt.Errorf("%w: unknown feature column", domain.ErrInputContractMismatch)
			}
			samples = append(samples, labeledSample{
				ticker: ticker,
				date:   series[i].Date,
				x:      x,
				y:      series[i+1].Ret1,
			})
		}
	}

	sort.Slice(samples, func(i, j int) bool {
		if samples[i].date != samples[j].date {
			return samples[i].date < samples[j].date
		}
		return samples[i].ticker < samples[j].ticker
	})
	return samples, nil
}

func gather(X [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = X[j]
	}
	return out
}

func gatherF(y []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = y[j]
	}
	return out
}
