package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/foresight/internal/database"
	"github.com/aristath/foresight/internal/domain"
	"github.com/aristath/foresight/internal/events"
	"github.com/aristath/foresight/internal/modules/evaluation"
	"github.com/aristath/foresight/internal/modules/features"
	"github.com/aristath/foresight/internal/modules/marketdata"
	"github.com/aristath/foresight/internal/modules/prediction"
	"github.com/aristath/foresight/internal/modules/training"
)

func openTestDB(t *testing.T, name string, profile database.DatabaseProfile) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLookbackDate(t *testing.T) {
	today := time.Now().UTC().Format(domain.DateFormat)
	assert.Equal(t, today, lookbackDate(0))
	assert.Less(t, lookbackDate(5), today)
}

func TestFeaturesJobBuildsAndStores(t *testing.T) {
	marketDB := openTestDB(t, "market", database.ProfileStandard)
	featuresDB := openTestDB(t, "features", database.ProfileStandard)

	prices := marketdata.NewPriceRepository(marketDB.Conn(), zerolog.Nop())
	news := marketdata.NewNewsRepository(marketDB.Conn(), zerolog.Nop())
	featureRepo := features.NewRepository(featuresDB.Conn(), zerolog.Nop())
	engine := features.NewEngine(zerolog.Nop())

	// Bars must land inside the trailing lookback window
	var bars []domain.PriceBar
	for i := 0; i < 20; i++ {
		date := time.Now().UTC().AddDate(0, 0, i-25).Format(domain.DateFormat)
		bars = append(bars, domain.PriceBar{
			Ticker: "AAA",
			Date:   date,
			Open:   99 + float64(i),
			High:   101 + float64(i),
			Low:    98 + float64(i),
			Close:  100 + float64(i),
			Volume: 10000,
		})
	}
	_, _, err := prices.UpsertBars(bars)
	require.NoError(t, err)

	job := NewFeaturesJob(prices, news, engine, featureRepo, 30, zerolog.Nop())
	assert.Equal(t, "features", job.Name())
	require.NoError(t, job.Run())

	latest, err := featureRepo.LatestDate()
	require.NoError(t, err)
	assert.Equal(t, bars[len(bars)-1].Date, latest)
}

func TestFeaturesJobEmptyWindow(t *testing.T) {
	marketDB := openTestDB(t, "market", database.ProfileStandard)
	featuresDB := openTestDB(t, "features", database.ProfileStandard)

	job := NewFeaturesJob(
		marketdata.NewPriceRepository(marketDB.Conn(), zerolog.Nop()),
		marketdata.NewNewsRepository(marketDB.Conn(), zerolog.Nop()),
		features.NewEngine(zerolog.Nop()),
		features.NewRepository(featuresDB.Conn(), zerolog.Nop()),
		30, zerolog.Nop(),
	)

	assert.NoError(t, job.Run())
}

func TestTrainJobFailsOnThinHistory(t *testing.T) {
	featuresDB := openTestDB(t, "features", database.ProfileStandard)
	resultsDB := openTestDB(t, "results", database.ProfileResults)

	featureRepo := features.NewRepository(featuresDB.Conn(), zerolog.Nop())
	modelRepo := training.NewModelRepository(resultsDB.Conn(), zerolog.Nop())
	trainer := training.NewTrainer(modelRepo, 50, zerolog.Nop())

	bus := events.NewBus()
	job := NewTrainJob(featureRepo, trainer, bus, 60, zerolog.Nop())
	assert.Equal(t, "train", job.Name())

	// An empty feature store aborts the run; no model is published
	assert.ErrorIs(t, job.Run(), domain.ErrInsufficientHistory)

	_, err := modelRepo.Active()
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestPredictJobFailsWithoutModel(t *testing.T) {
	featuresDB := openTestDB(t, "features", database.ProfileStandard)
	resultsDB := openTestDB(t, "results", database.ProfileResults)

	predictor := prediction.NewPredictor(
		training.NewModelRepository(resultsDB.Conn(), zerolog.Nop()),
		features.NewRepository(featuresDB.Conn(), zerolog.Nop()),
		prediction.NewRepository(resultsDB.Conn(), zerolog.Nop()),
		zerolog.Nop(),
	)

	job := NewPredictJob(predictor, events.NewBus(), 5, zerolog.Nop())
	assert.Equal(t, "predict", job.Name())
	assert.ErrorIs(t, job.Run(), domain.ErrDataUnavailable)
}

func TestEvaluateJobFailsWithoutHistory(t *testing.T) {
	featuresDB := openTestDB(t, "features", database.ProfileStandard)
	resultsDB := openTestDB(t, "results", database.ProfileResults)

	featureRepo := features.NewRepository(featuresDB.Conn(), zerolog.Nop())
	evaluator := evaluation.NewEvaluator(
		featureRepo,
		prediction.NewRepository(resultsDB.Conn(), zerolog.Nop()),
		training.NewModelRepository(resultsDB.Conn(), zerolog.Nop()),
		evaluation.NewRepository(resultsDB.Conn(), zerolog.Nop()),
		zerolog.Nop(),
	)

	job := NewEvaluateJob(evaluator, events.NewBus(), 5, zerolog.Nop())
	assert.Equal(t, "evaluate", job.Name())
	assert.ErrorIs(t, job.Run(), domain.ErrInsufficientHistory)
}

func TestJobFailurePublishesJobFailed(t *testing.T) {
	featuresDB := openTestDB(t, "features", database.ProfileStandard)
	resultsDB := openTestDB(t, "results", database.ProfileResults)

	featureRepo := features.NewRepository(featuresDB.Conn(), zerolog.Nop())
	trainer := training.NewTrainer(training.NewModelRepository(resultsDB.Conn(), zerolog.Nop()), 50, zerolog.Nop())

	bus := events.NewBus()
	sched := New(bus, zerolog.Nop())
	require.NoError(t, sched.AddJob("0 0 19 * * *", NewTrainJob(featureRepo, trainer, bus, 60, zerolog.Nop())))

	ch, cancel := bus.Subscribe()
	defer cancel()

	assert.ErrorIs(t, sched.RunNow("train"), domain.ErrInsufficientHistory)

	// A run aborted for thin history surfaces as a failed run, not a
	// completed one
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Type == events.JobCompleted {
				t.Fatal("expected the run to fail")
			}
			if evt.Type == events.JobFailed {
				assert.Contains(t, evt.Data["error"], "insufficient history")
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for job_failed")
		}
	}
}

type stubBackupRunner struct {
	calls int
	err   error
}

func (r *stubBackupRunner) Backup(ctx context.Context) error {
	r.calls++
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("expected a deadline")
	}
	return r.err
}

func TestBackupJob(t *testing.T) {
	runner := &stubBackupRunner{}
	job := NewBackupJob(runner)
	assert.Equal(t, "backup", job.Name())

	require.NoError(t, job.Run())
	assert.Equal(t, 1, runner.calls)

	runner.err = errors.New("upload failed")
	assert.Error(t, job.Run())
}
