package prediction

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/foresight/internal/domain"
)

// Repository provides access to the predictions table in results.db
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new prediction repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "predictions").Logger(),
	}
}

// Upsert inserts or replaces predictions keyed by
// (ticker, prediction_date, model_id). Returns inserted and modified
// counts.
func (r *Repository) Upsert(preds []domain.Prediction) (inserted, modified int, err error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin prediction upsert: %w", err)
	}
	defer tx.Rollback()

	existsStmt, err := tx.Prepare(`SELECT 1 FROM predictions WHERE ticker = ? AND prediction_date = ? AND model_id = ?`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare exists statement: %w", err)
	}
	defer existsStmt.Close()

	upsertStmt, err := tx.Prepare(`
		INSERT INTO predictions (ticker, prediction_date, target_date, y_pred, confidence, model_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(ticker, prediction_date, model_id) DO UPDATE SET
			target_date = excluded.target_date,
			y_pred = excluded.y_pred,
			confidence = excluded.confidence,
			updated_at = datetime('now')
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare prediction upsert: %w", err)
	}
	defer upsertStmt.Close()

	for _, p := range preds {
		var one int
		existed := true
		if err := existsStmt.QueryRow(p.Ticker, p.PredictionDate, p.ModelID).Scan(&one); err != nil {
			if err != sql.ErrNoRows {
				return 0, 0, fmt.Errorf("failed to check prediction %s/%s: %w", p.Ticker, p.PredictionDate, err)
			}
			existed = false
		}

		if _, err := upsertStmt.Exec(p.Ticker, p.PredictionDate, p.TargetDate, p.YPred, p.Confidence, p.ModelID); err != nil {
			return 0, 0, fmt.Errorf("failed to upsert prediction %s/%s: %w", p.Ticker, p.PredictionDate, err)
		}

		if existed {
			modified++
		} else {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit prediction upsert: %w", err)
	}

	r.log.Debug().Int("inserted", inserted).Int("modified", modified).Msg("Predictions upserted")
	return inserted, modified, nil
}

// LatestDate returns the most recent prediction date, or "" when empty
func (r *Repository) LatestDate() (string, error) {
	var date sql.NullString
	if err := r.db.QueryRow(`SELECT MAX(prediction_date) FROM predictions`).Scan(&date); err != nil {
		return "", fmt.Errorf("failed to query latest prediction date: %w", err)
	}
	if !date.Valid {
		return "", nil
	}
	return date.String, nil
}

// ForDate returns all predictions made on one date, ordered by ticker
func (r *Repository) ForDate(date string) ([]domain.Prediction, error) {
	rows, err := r.db.Query(`
		SELECT ticker, prediction_date, target_date, y_pred, confidence, model_id
		FROM predictions
		WHERE prediction_date = ?
		ORDER BY ticker
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions for %s: %w", date, err)
	}
	defer rows.Close()

	return scanPredictions(rows)
}

// Latest returns the predictions of the most recent prediction date
func (r *Repository) Latest() ([]domain.Prediction, error) {
	date, err := r.LatestDate()
	if err != nil {
		return nil, err
	}
	if date == "" {
		return nil, nil
	}
	return r.ForDate(date)
}

func scanPredictions(rows *sql.Rows) ([]domain.Prediction, error) {
	var preds []domain.Prediction
	for rows.Next() {
		var p domain.Prediction
		if err := rows.Scan(&p.Ticker, &p.PredictionDate, &p.TargetDate, &p.YPred, &p.Confidence, &p.ModelID); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		preds = append(preds, p)
	}
	return preds, rows.Err()
}
