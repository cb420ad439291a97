package features

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/foresight/internal/domain"
)

// Repository provides access to the features table in features.db
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new feature repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "features").Logger(),
	}
}

// Upsert inserts or replaces feature rows keyed by (ticker, date).
// Returns inserted and modified counts.
func (r *Repository) Upsert(rows []domain.FeatureVector) (inserted, modified int, err error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin feature upsert: %w", err)
	}
	defer tx.Rollback()

	existsStmt, err := tx.Prepare(`SELECT 1 FROM features WHERE ticker = ? AND date = ?`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare exists statement: %w", err)
	}
	defer existsStmt.Close()

	upsertStmt, err := tx.Prepare(`
		INSERT INTO features (
			ticker, date, ret1, ret5, vol20, rsi14, macd, adx14, z_close_20,
			market_sentiment_mean, market_sentiment_max, market_sentiment_count,
			fallbacks, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(ticker, date) DO UPDATE SET
			ret1 = excluded.ret1,
			ret5 = excluded.ret5,
			vol20 = excluded.vol20,
			rsi14 = excluded.rsi14,
			macd = excluded.macd,
			adx14 = excluded.adx14,
			z_close_20 = excluded.z_close_20,
			market_sentiment_mean = excluded.market_sentiment_mean,
			market_sentiment_max = excluded.market_sentiment_max,
			market_sentiment_count = excluded.market_sentiment_count,
			fallbacks = excluded.fallbacks,
			updated_at = datetime('now')
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare feature upsert: %w", err)
	}
	defer upsertStmt.Close()

	for _, row := range rows {
		var one int
		existed := true
		if err := existsStmt.QueryRow(row.Ticker, row.Date).Scan(&one); err != nil {
			if err != sql.ErrNoRows {
				return 0, 0, fmt.Errorf("failed to check feature row %s/%s: %w", row.Ticker, row.Date, err)
			}
			existed = false
		}

		if _, err := upsertStmt.Exec(
			row.Ticker, row.Date, row.Ret1, row.Ret5, row.Vol20, row.RSI14,
			row.MACD, row.ADX14, row.ZClose20,
			row.MarketSentimentMean, row.MarketSentimentMax, row.MarketSentimentCount,
			row.Fallbacks,
		); err != nil {
			return 0, 0, fmt.Errorf("failed to upsert feature row %s/%s: %w", row.Ticker, row.Date, err)
		}

		if existed {
			modified++
		} else {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit feature upsert: %w", err)
	}

	r.log.Debug().Int("inserted", inserted).Int("modified", modified).Msg("Feature rows upserted")
	return inserted, modified, nil
}

// RowsSince returns all feature rows with date >= since, ordered by ticker
// then date
func (r *Repository) RowsSince(since string) ([]domain.FeatureVector, error) {
	rows, err := r.db.Query(selectColumns+`
		WHERE date >= ?
		ORDER BY ticker, date
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query feature rows since %s: %w", since, err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// RowsForDate returns all feature rows of one trading day
func (r *Repository) RowsForDate(date string) ([]domain.FeatureVector, error) {
	rows, err := r.db.Query(selectColumns+`
		WHERE date = ?
		ORDER BY ticker
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query feature rows for %s: %w", date, err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// LatestDate returns the most recent feature date, or "" when the store is
// empty
func (r *Repository) LatestDate() (string, error) {
	var date sql.NullString
	err := r.db.QueryRow(`SELECT MAX(date) FROM features`).Scan(&date)
	if err != nil {
		return "", fmt.Errorf("failed to query latest feature date: %w", err)
	}
	if !date.Valid {
		return "", nil
	}
	return date.String, nil
}

// DistinctDates returns the distinct feature dates with date >= since,
// ascending
func (r *Repository) DistinctDates(since string) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT date FROM features WHERE date >= ? ORDER BY date
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query feature dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan feature date: %w", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

const selectColumns = `
	SELECT ticker, date, ret1, ret5, vol20, rsi14, macd, adx14, z_close_20,
	       market_sentiment_mean, market_sentiment_max, market_sentiment_count,
	       fallbacks
	FROM features
`

func scanRows(rows *sql.Rows) ([]domain.FeatureVector, error) {
	var out []domain.FeatureVector
	for rows.Next() {
		var f domain.FeatureVector
		if err := rows.Scan(
			&f.Ticker, &f.Date, &f.Ret1, &f.Ret5, &f.Vol20, &f.RSI14,
			&f.MACD, &f.ADX14, &f.ZClose20,
			&f.MarketSentimentMean, &f.MarketSentimentMax, &f.MarketSentimentCount,
			&f.Fallbacks,
		); err != nil {
			return nil, fmt.Errorf("failed to scan feature row: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
