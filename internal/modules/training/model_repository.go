package training

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/foresight/internal/domain"
)

// ModelRepository manages the append-only model version log in results.db.
// Artifacts are created and activated; an existing artifact's parameters
// are never mutated.
type ModelRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewModelRepository creates a new model repository
func NewModelRepository(db *sql.DB, log zerolog.Logger) *ModelRepository {
	return &ModelRepository{
		db:  db,
		log: log.With().Str("repository", "models").Logger(),
	}
}

// Publish appends a new artifact and makes it the single active model.
// The insert and the active-flag flip happen inside one transaction, so a
// concurrent reader sees either the previous active model or the new one,
// never zero or two.
func (r *ModelRepository) Publish(artifact *domain.ModelArtifact) (int64, error) {
	columns, err := json.Marshal(artifact.FeatureColumns)
	if err != nil {
		return 0, fmt.Errorf("failed to encode feature columns: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin model publish: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE models SET is_active = 0 WHERE is_active = 1`); err != nil {
		return 0, fmt.Errorf("failed to deactivate previous models: %w", err)
	}

	result, err := tx.Exec(`
		INSERT INTO models (model_type, feature_columns, parameters, training_date, cv_mae, is_active)
		VALUES (?, ?, ?, ?, ?, 1)
	`, artifact.ModelType, string(columns), artifact.Parameters, artifact.TrainingDate, artifact.CVError)
	if err != nil {
		return 0, fmt.Errorf("failed to insert model artifact: %w", err)
	}

	modelID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read new model id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit model publish: %w", err)
	}

	r.log.Info().Int64("model_id", modelID).Msg("Model artifact published")
	return modelID, nil
}

// SetActive atomically makes the given artifact the single active model
func (r *ModelRepository) SetActive(modelID int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin activation: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE models SET is_active = 0 WHERE is_active = 1`); err != nil {
		return fmt.Errorf("failed to deactivate previous models: %w", err)
	}

	result, err := tx.Exec(`UPDATE models SET is_active = 1 WHERE model_id = ?`, modelID)
	if err != nil {
		return fmt.Errorf("failed to activate model %d: %w", modelID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check activation: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("model %d not found", modelID)
	}

	return tx.Commit()
}

// Active returns the single active artifact, or ErrDataUnavailable when no
// model has been published yet
func (r *ModelRepository) Active() (*domain.ModelArtifact, error) {
	row := r.db.QueryRow(`
		SELECT model_id, model_type, feature_columns, parameters, training_date, cv_mae, is_active, created_at
		FROM models
		WHERE is_active = 1
	`)

	artifact, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no active model", domain.ErrDataUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active model: %w", err)
	}
	return artifact, nil
}

// ByID returns one artifact by its id, or nil when absent
func (r *ModelRepository) ByID(modelID int64) (*domain.ModelArtifact, error) {
	row := r.db.QueryRow(`
		SELECT model_id, model_type, feature_columns, parameters, training_date, cv_mae, is_active, created_at
		FROM models
		WHERE model_id = ?
	`, modelID)

	artifact, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query model %d: %w", modelID, err)
	}
	return artifact, nil
}

// History returns the most recent artifacts, newest first, without their
// serialized parameters
func (r *ModelRepository) History(limit int) ([]domain.ModelArtifact, error) {
	rows, err := r.db.Query(`
		SELECT model_id, model_type, feature_columns, training_date, cv_mae, is_active, created_at
		FROM models
		ORDER BY model_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query model history: %w", err)
	}
	defer rows.Close()

	var artifacts []domain.ModelArtifact
	for rows.Next() {
		var a domain.ModelArtifact
		var columns string
		var active int
		var createdAt string
		if err := rows.Scan(&a.ModelID, &a.ModelType, &columns, &a.TrainingDate, &a.CVError, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan model artifact: %w", err)
		}
		if err := json.Unmarshal([]byte(columns), &a.FeatureColumns); err != nil {
			return nil, fmt.Errorf("failed to decode feature columns: %w", err)
		}
		a.IsActive = active == 1
		a.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArtifact(row rowScanner) (*domain.ModelArtifact, error) {
	var a domain.ModelArtifact
	var columns string
	var active int
	var createdAt string
	if err := row.Scan(&a.ModelID, &a.ModelType, &columns, &a.Parameters, &a.TrainingDate, &a.CVError, &active, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(columns), &a.FeatureColumns); err != nil {
		return nil, fmt.Errorf("failed to decode feature columns: %w", err)
	}
	a.IsActive = active == 1
	a.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
	return &a, nil
}
