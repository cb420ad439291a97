package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/foresight/internal/domain"
	"github.com/aristath/foresight/internal/events"
	"github.com/aristath/foresight/internal/modules/evaluation"
	"github.com/aristath/foresight/internal/modules/features"
	"github.com/aristath/foresight/internal/modules/marketdata"
	"github.com/aristath/foresight/internal/modules/prediction"
	"github.com/aristath/foresight/internal/modules/training"
)

// lookbackDate returns today minus n days in storage date format
func lookbackDate(n int) string {
	return time.Now().UTC().AddDate(0, 0, -n).Format(domain.DateFormat)
}

// ImportJob ingests CSV drops from the import directory
type ImportJob struct {
	service *marketdata.ImportService
}

func NewImportJob(service *marketdata.ImportService) *ImportJob {
	return &ImportJob{service: service}
}

func (j *ImportJob) Name() string { return "import" }

func (j *ImportJob) Run() error {
	return j.service.ImportAll()
}

// FeaturesJob rebuilds the feature store from the market data window
type FeaturesJob struct {
	prices       *marketdata.PriceRepository
	news         *marketdata.NewsRepository
	engine       *features.Engine
	features     *features.Repository
	lookbackDays int
	log          zerolog.Logger
}

func NewFeaturesJob(prices *marketdata.PriceRepository, news *marketdata.NewsRepository, engine *features.Engine, repo *features.Repository, lookbackDays int, log zerolog.Logger) *FeaturesJob {
	return &FeaturesJob{
		prices:       prices,
		news:         news,
		engine:       engine,
		features:     repo,
		lookbackDays: lookbackDays,
		log:          log.With().Str("job", "features").Logger(),
	}
}

func (j *FeaturesJob) Name() string { return "features" }

func (j *FeaturesJob) Run() error {
	since := lookbackDate(j.lookbackDays)

	bars, err := j.prices.BarsSince(since)
	if err != nil {
		return fmt.Errorf("failed to load price bars: %w", err)
	}
	if len(bars) == 0 {
		j.log.Info().Str("since", since).Msg("No price bars in window, nothing to build")
		return nil
	}

	sentiment, err := j.news.SentimentSummaries(since)
	if err != nil {
		return fmt.Errorf("failed to load sentiment summaries: %w", err)
	}

	rows := j.engine.Build(bars, sentiment)
	if len(rows) == 0 {
		j.log.Info().Str("since", since).Msg("No feature rows built")
		return nil
	}

	inserted, modified, err := j.features.Upsert(rows)
	if err != nil {
		return fmt.Errorf("failed to store feature rows: %w", err)
	}

	j.log.Info().
		Str("since", since).
		Int("rows", len(rows)).
		Int("inserted", inserted).
		Int("modified", modified).
		Msg("Feature store updated")
	return nil
}

// TrainJob fits a new model on the training window and activates it
type TrainJob struct {
	features     *features.Repository
	trainer      *training.Trainer
	bus          *events.Bus
	lookbackDays int
	log          zerolog.Logger
}

func NewTrainJob(repo *features.Repository, trainer *training.Trainer, bus *events.Bus, lookbackDays int, log zerolog.Logger) *TrainJob {
	return &TrainJob{
		features:     repo,
		trainer:      trainer,
		bus:          bus,
		lookbackDays: lookbackDays,
		log:          log.With().Str("job", "train").Logger(),
	}
}

func (j *TrainJob) Name() string { return "train" }

func (j *TrainJob) Run() error {
	since := lookbackDate(j.lookbackDays)

	rows, err := j.features.RowsSince(since)
	if err != nil {
		return fmt.Errorf("failed to load feature rows: %w", err)
	}

	result, err := j.trainer.Train(rows)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientHistory) {
			j.log.Warn().Str("since", since).Int("rows", len(rows)).Msg("Not enough samples to train, keeping current model")
		}
		return fmt.Errorf("training failed: %w", err)
	}

	j.bus.Publish(events.Event{
		Type: events.ModelActivated,
		Data: map[string]interface{}{
			"model_id": result.ModelID,
			"cv_mae":   result.CVError,
		},
	})

	j.log.Info().
		Int64("model_id", result.ModelID).
		Float64("cv_mae", result.CVError).
		Int("samples", result.Samples).
		Msg("New model trained and activated")
	return nil
}

// PredictJob scores the latest feature date with the active model
type PredictJob struct {
	predictor    *prediction.Predictor
	bus          *events.Bus
	lookbackDays int
	log          zerolog.Logger
}

func NewPredictJob(predictor *prediction.Predictor, bus *events.Bus, lookbackDays int, log zerolog.Logger) *PredictJob {
	return &PredictJob{
		predictor:    predictor,
		bus:          bus,
		lookbackDays: lookbackDays,
		log:          log.With().Str("job", "predict").Logger(),
	}
}

func (j *PredictJob) Name() string { return "predict" }

func (j *PredictJob) Run() error {
	since := lookbackDate(j.lookbackDays)

	result, err := j.predictor.Run(since)
	if err != nil {
		if errors.Is(err, domain.ErrDataUnavailable) {
			j.log.Warn().Str("since", since).Msg("No model or no features to score")
		}
		return fmt.Errorf("prediction failed: %w", err)
	}

	j.bus.Publish(events.Event{
		Type: events.PredictionsReady,
		Data: map[string]interface{}{
			"prediction_date": result.PredictionDate,
			"target_date":     result.TargetDate,
			"model_id":        result.ModelID,
			"tickers":         len(result.Predictions),
		},
	})

	j.log.Info().
		Str("prediction_date", result.PredictionDate).
		Str("target_date", result.TargetDate).
		Int("tickers", len(result.Predictions)).
		Msg("Predictions stored")
	return nil
}

// EvaluateJob joins yesterday's predictions to realized returns
type EvaluateJob struct {
	evaluator    *evaluation.Evaluator
	bus          *events.Bus
	lookbackDays int
	log          zerolog.Logger
}

func NewEvaluateJob(evaluator *evaluation.Evaluator, bus *events.Bus, lookbackDays int, log zerolog.Logger) *EvaluateJob {
	return &EvaluateJob{
		evaluator:    evaluator,
		bus:          bus,
		lookbackDays: lookbackDays,
		log:          log.With().Str("job", "evaluate").Logger(),
	}
}

func (j *EvaluateJob) Name() string { return "evaluate" }

func (j *EvaluateJob) Run() error {
	since := lookbackDate(j.lookbackDays)

	result, err := j.evaluator.Run(since)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientHistory) || errors.Is(err, domain.ErrDataUnavailable) {
			j.log.Warn().Str("since", since).Err(err).Msg("Nothing to evaluate yet")
		}
		return fmt.Errorf("evaluation failed: %w", err)
	}

	j.bus.Publish(events.Event{
		Type: events.EvaluationsReady,
		Data: map[string]interface{}{
			"target_date":          result.TargetDate,
			"evaluated":            result.Metrics.Evaluated,
			"mae":                  result.Metrics.MAE,
			"rmse":                 result.Metrics.RMSE,
			"directional_accuracy": result.Metrics.DirectionalAccuracy,
		},
	})

	j.log.Info().
		Str("target_date", result.TargetDate).
		Int("evaluated", result.Metrics.Evaluated).
		Float64("mae", result.Metrics.MAE).
		Float64("directional_accuracy", result.Metrics.DirectionalAccuracy).
		Msg("Evaluations stored")
	return nil
}

// BackupRunner is the slice of the backup service the job needs
type BackupRunner interface {
	Backup(ctx context.Context) error
}

// BackupJob archives the databases to object storage
type BackupJob struct {
	runner BackupRunner
}

func NewBackupJob(runner BackupRunner) *BackupJob {
	return &BackupJob{runner: runner}
}

func (j *BackupJob) Name() string { return "backup" }

func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	return j.runner.Backup(ctx)
}
