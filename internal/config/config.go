// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
// It is constructed once at startup and passed explicitly into every
// collaborator; nothing in the pipeline reads the process environment after
// Load returns.
type Config struct {
	DataDir   string // Base directory for all databases (always absolute)
	ImportDir string // Directory scanned for price/news CSV drops
	LogLevel  string
	Port      int
	DevMode   bool

	// Pipeline tuning
	TrainingLookbackDays int // Feature history window fed to the trainer
	ServingLookbackDays  int // Feature history window for predict/evaluate
	MinTrainingSamples   int // Labeled rows required before a model is fit

	// Cron schedules (robfig/cron specs, with seconds field)
	ImportSchedule   string
	FeaturesSchedule string
	TrainSchedule    string
	PredictSchedule  string
	EvaluateSchedule string

	Backup *BackupConfig
}

// BackupConfig holds S3-compatible backup settings.
// Disabled unless an endpoint and bucket are configured.
type BackupConfig struct {
	Enabled   bool
	Endpoint  string // S3-compatible endpoint URL (R2, MinIO, AWS)
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Retention int // Number of remote backups to keep
	Schedule  string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FORESIGHT_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:              absDataDir,
		ImportDir:            getEnv("FORESIGHT_IMPORT_DIR", filepath.Join(absDataDir, "import")),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		Port:                 getEnvAsInt("PORT", 8002),
		DevMode:              getEnvAsBool("DEV_MODE", false),
		TrainingLookbackDays: getEnvAsInt("TRAINING_LOOKBACK_DAYS", 60),
		ServingLookbackDays:  getEnvAsInt("SERVING_LOOKBACK_DAYS", 5),
		MinTrainingSamples:   getEnvAsInt("MIN_TRAINING_SAMPLES", 50),
		ImportSchedule:       getEnv("IMPORT_SCHEDULE", "0 0 18 * * *"),
		FeaturesSchedule:     getEnv("FEATURES_SCHEDULE", "0 30 18 * * *"),
		TrainSchedule:        getEnv("TRAIN_SCHEDULE", "0 0 19 * * *"),
		PredictSchedule:      getEnv("PREDICT_SCHEDULE", "0 30 19 * * *"),
		EvaluateSchedule:     getEnv("EVALUATE_SCHEDULE", "0 0 20 * * *"),
		Backup:               loadBackupConfig(),
	}

	return cfg, nil
}

func loadBackupConfig() *BackupConfig {
	endpoint := getEnv("BACKUP_S3_ENDPOINT", "")
	bucket := getEnv("BACKUP_S3_BUCKET", "")
	if endpoint == "" || bucket == "" {
		return &BackupConfig{Enabled: false}
	}

	return &BackupConfig{
		Enabled:   true,
		Endpoint:  endpoint,
		Region:    getEnv("BACKUP_S3_REGION", "auto"),
		Bucket:    bucket,
		AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
		SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
		Retention: getEnvAsInt("BACKUP_RETENTION", 7),
		Schedule:  getEnv("BACKUP_SCHEDULE", "0 30 20 * * *"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
