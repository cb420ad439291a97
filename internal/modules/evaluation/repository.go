package evaluation

import (
	"database/sql"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/foresight/internal/domain"
)

// Repository provides access to the evaluations table in results.db
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new evaluation repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "evaluations").Logger(),
	}
}

// Upsert inserts or replaces evaluations keyed by (ticker, target_date).
// Returns inserted and modified counts.
func (r *Repository) Upsert(evals []domain.Evaluation) (inserted, modified int, err error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin evaluation upsert: %w", err)
	}
	defer tx.Rollback()

	existsStmt, err := tx.Prepare(`SELECT 1 FROM evaluations WHERE ticker = ? AND target_date = ?`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare exists statement: %w", err)
	}
	defer existsStmt.Close()

	upsertStmt, err := tx.Prepare(`
		INSERT INTO evaluations (ticker, target_date, y_pred, y_true, abs_gap, signed_gap, explanation, evaluation_date, model_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(ticker, target_date) DO UPDATE SET
			y_pred = excluded.y_pred,
			y_true = excluded.y_true,
			abs_gap = excluded.abs_gap,
			signed_gap = excluded.signed_gap,
			explanation = excluded.explanation,
			evaluation_date = excluded.evaluation_date,
			model_id = excluded.model_id,
			updated_at = datetime('now')
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare evaluation upsert: %w", err)
	}
	defer upsertStmt.Close()

	for _, ev := range evals {
		var one int
		existed := true
		if err := existsStmt.QueryRow(ev.Ticker, ev.TargetDate).Scan(&one); err != nil {
			if err != sql.ErrNoRows {
				return 0, 0, fmt.Errorf("failed to check evaluation %s/%s: %w", ev.Ticker, ev.TargetDate, err)
			}
			existed = false
		}

		if _, err := upsertStmt.Exec(
			ev.Ticker, ev.TargetDate, ev.YPred, ev.YTrue, ev.AbsGap, ev.SignedGap,
			ev.Explanation, ev.EvaluationDate, ev.ModelID,
		); err != nil {
			return 0, 0, fmt.Errorf("failed to upsert evaluation %s/%s: %w", ev.Ticker, ev.TargetDate, err)
		}

		if existed {
			modified++
		} else {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit evaluation upsert: %w", err)
	}

	r.log.Debug().Int("inserted", inserted).Int("modified", modified).Msg("Evaluations upserted")
	return inserted, modified, nil
}

// LatestTargetDate returns the most recent evaluated target date, or ""
// when empty
func (r *Repository) LatestTargetDate() (string, error) {
	var date sql.NullString
	if err := r.db.QueryRow(`SELECT MAX(target_date) FROM evaluations`).Scan(&date); err != nil {
		return "", fmt.Errorf("failed to query latest target date: %w", err)
	}
	if !date.Valid {
		return "", nil
	}
	return date.String, nil
}

// ForTargetDate returns all evaluations of one target date, ordered by
// ticker
func (r *Repository) ForTargetDate(date string) ([]domain.Evaluation, error) {
	rows, err := r.db.Query(`
		SELECT ticker, target_date, y_pred, y_true, abs_gap, signed_gap, explanation, evaluation_date, model_id
		FROM evaluations
		WHERE target_date = ?
		ORDER BY ticker
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluations for %s: %w", date, err)
	}
	defer rows.Close()

	return scanEvaluations(rows)
}

// TickerAccuracy is one ticker's aggregate accuracy over a trailing window
type TickerAccuracy struct {
	Ticker              string  `json:"ticker"`
	MAE                 float64 `json:"mae"`
	RMSE                float64 `json:"rmse"`
	DirectionalAccuracy float64 `json:"directional_accuracy"`
	Evaluations         int     `json:"evaluations"`
}

// AccuracyByTicker aggregates per-ticker error metrics over evaluations
// with target_date >= since
func (r *Repository) AccuracyByTicker(since string) ([]TickerAccuracy, error) {
	rows, err := r.db.Query(`
		SELECT ticker,
		       AVG(abs_gap),
		       AVG(abs_gap * abs_gap),
		       AVG(CASE WHEN (y_pred > 0 AND y_true > 0) OR (y_pred < 0 AND y_true < 0) OR (y_pred = 0 AND y_true = 0) THEN 1.0 ELSE 0.0 END),
		       COUNT(*)
		FROM evaluations
		WHERE target_date >= ?
		GROUP BY ticker
		ORDER BY ticker
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query per-ticker accuracy: %w", err)
	}
	defer rows.Close()

	var stats []TickerAccuracy
	for rows.Next() {
		var s TickerAccuracy
		var meanSq float64
		if err := rows.Scan(&s.Ticker, &s.MAE, &meanSq, &s.DirectionalAccuracy, &s.Evaluations); err != nil {
			return nil, fmt.Errorf("failed to scan ticker accuracy: %w", err)
		}
		s.RMSE = math.Sqrt(meanSq)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func scanEvaluations(rows *sql.Rows) ([]domain.Evaluation, error) {
	var evals []domain.Evaluation
	for rows.Next() {
		var ev domain.Evaluation
		if err := rows.Scan(&ev.Ticker, &ev.TargetDate, &ev.YPred, &ev.YTrue, &ev.AbsGap, &ev.SignedGap, &ev.Explanation, &ev.EvaluationDate, &ev.ModelID); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		evals = append(evals, ev)
	}
	return evals, rows.Err()
}
