// Foresight trains a daily next-day return model over the tracked tickers,
// serves the resulting forecasts over HTTP and scores them against realized
// returns one day later.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/foresight/internal/config"
	"github.com/aristath/foresight/internal/database"
	"github.com/aristath/foresight/internal/events"
	"github.com/aristath/foresight/internal/modules/evaluation"
	evaluationhandlers "github.com/aristath/foresight/internal/modules/evaluation/handlers"
	"github.com/aristath/foresight/internal/modules/features"
	"github.com/aristath/foresight/internal/modules/marketdata"
	"github.com/aristath/foresight/internal/modules/prediction"
	predictionhandlers "github.com/aristath/foresight/internal/modules/prediction/handlers"
	"github.com/aristath/foresight/internal/modules/training"
	traininghandlers "github.com/aristath/foresight/internal/modules/training/handlers"
	"github.com/aristath/foresight/internal/reliability"
	"github.com/aristath/foresight/internal/scheduler"
	"github.com/aristath/foresight/internal/server"
	"github.com/aristath/foresight/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Int("port", cfg.Port).Msg("Starting Foresight")

	// Databases
	marketDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "market.db"),
		Profile: database.ProfileStandard,
		Name:    "market",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open market database")
	}
	defer marketDB.Close()

	featuresDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "features.db"),
		Profile: database.ProfileStandard,
		Name:    "features",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open features database")
	}
	defer featuresDB.Close()

	resultsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "results.db"),
		Profile: database.ProfileResults,
		Name:    "results",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open results database")
	}
	defer resultsDB.Close()

	for _, db := range []*database.DB{marketDB, featuresDB, resultsDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Failed to apply schema")
		}
	}

	// Repositories
	priceRepo := marketdata.NewPriceRepository(marketDB.Conn(), log)
	newsRepo := marketdata.NewNewsRepository(marketDB.Conn(), log)
	featureRepo := features.NewRepository(featuresDB.Conn(), log)
	modelRepo := training.NewModelRepository(resultsDB.Conn(), log)
	predictionRepo := prediction.NewRepository(resultsDB.Conn(), log)
	evaluationRepo := evaluation.NewRepository(resultsDB.Conn(), log)

	// Pipeline services
	importService := marketdata.NewImportService(cfg.ImportDir, priceRepo, newsRepo, log)
	engine := features.NewEngine(log)
	trainer := training.NewTrainer(modelRepo, cfg.MinTrainingSamples, log)
	predictor := prediction.NewPredictor(modelRepo, featureRepo, predictionRepo, log)
	evaluator := evaluation.NewEvaluator(featureRepo, predictionRepo, modelRepo, evaluationRepo, log)

	bus := events.NewBus()

	// Scheduler
	sched := scheduler.New(bus, log)
	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.ImportSchedule, scheduler.NewImportJob(importService)},
		{cfg.FeaturesSchedule, scheduler.NewFeaturesJob(priceRepo, newsRepo, engine, featureRepo, cfg.TrainingLookbackDays, log)},
		{cfg.TrainSchedule, scheduler.NewTrainJob(featureRepo, trainer, bus, cfg.TrainingLookbackDays, log)},
		{cfg.PredictSchedule, scheduler.NewPredictJob(predictor, bus, cfg.ServingLookbackDays, log)},
		{cfg.EvaluateSchedule, scheduler.NewEvaluateJob(evaluator, bus, cfg.ServingLookbackDays, log)},
	}
	for _, entry := range jobs {
		if err := sched.AddJob(entry.schedule, entry.job); err != nil {
			log.Fatal().Err(err).Str("job", entry.job.Name()).Msg("Failed to register job")
		}
	}

	if cfg.Backup.Enabled {
		store, err := reliability.NewObjectStore(cfg.Backup, log)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize object store, backups disabled")
		} else {
			backupService := reliability.NewBackupService(
				store,
				[]*database.DB{marketDB, featuresDB, resultsDB},
				cfg.DataDir,
				cfg.Backup.Retention,
				log,
			)
			if err := sched.AddJob(cfg.Backup.Schedule, scheduler.NewBackupJob(backupService)); err != nil {
				log.Fatal().Err(err).Msg("Failed to register backup job")
			}
			log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Cloud backups enabled")
		}
	} else {
		log.Debug().Msg("Backup credentials not configured, cloud backups disabled")
	}

	sched.Start()
	defer sched.Stop()

	// HTTP server
	srv := server.New(server.Config{
		Log:               log,
		Cfg:               cfg,
		MarketDB:          marketDB,
		FeaturesDB:        featuresDB,
		ResultsDB:         resultsDB,
		Bus:               bus,
		Scheduler:         sched,
		PredictionHandler: predictionhandlers.NewHandler(predictionRepo, log),
		EvaluationHandler: evaluationhandlers.NewHandler(evaluationRepo, log),
		ModelHandler:      traininghandlers.NewHandler(modelRepo, log),
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Foresight stopped")
}
