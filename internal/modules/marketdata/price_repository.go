// Package marketdata provides storage for raw price bars and news sentiment
// samples, plus the local CSV import used to load historical data drops.
package marketdata

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/foresight/internal/domain"
)

// PriceRepository provides access to the prices table in market.db
type PriceRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPriceRepository creates a new price repository
func NewPriceRepository(db *sql.DB, log zerolog.Logger) *PriceRepository {
	return &PriceRepository{
		db:  db,
		log: log.With().Str("repository", "prices").Logger(),
	}
}

// UpsertBars inserts or replaces price bars keyed by (ticker, date).
// Re-running with the same bars leaves the table unchanged; re-ingestion
// with different values replaces the bar. Returns inserted and modified
// counts.
func (r *PriceRepository) UpsertBars(bars []domain.PriceBar) (inserted, modified int, err error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin price upsert: %w", err)
	}
	defer tx.Rollback()

	existsStmt, err := tx.Prepare(`SELECT 1 FROM prices WHERE ticker = ? AND date = ?`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare exists statement: %w", err)
	}
	defer existsStmt.Close()

	upsertStmt, err := tx.Prepare(`
		INSERT INTO prices (ticker, date, open, high, low, close, volume, data_source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(ticker, date) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			data_source = excluded.data_source,
			updated_at = datetime('now')
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare price upsert: %w", err)
	}
	defer upsertStmt.Close()

	for _, bar := range bars {
		var one int
		existed := true
		if err := existsStmt.QueryRow(bar.Ticker, bar.Date).Scan(&one); err != nil {
			if err != sql.ErrNoRows {
				return 0, 0, fmt.Errorf("failed to check price bar %s/%s: %w", bar.Ticker, bar.Date, err)
			}
			existed = false
		}

		source := bar.DataSource
		if source == "" {
			source = "csv_import"
		}

		if _, err := upsertStmt.Exec(bar.Ticker, bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, source); err != nil {
			return 0, 0, fmt.Errorf("failed to upsert price bar %s/%s: %w", bar.Ticker, bar.Date, err)
		}

		if existed {
			modified++
		} else {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit price upsert: %w", err)
	}

	r.log.Debug().Int("inserted", inserted).Int("modified", modified).Msg("Price bars upserted")
	return inserted, modified, nil
}

// BarsSince returns all bars with date >= since, ordered by ticker then date
func (r *PriceRepository) BarsSince(since string) ([]domain.PriceBar, error) {
	rows, err := r.db.Query(`
		SELECT ticker, date, open, high, low, close, volume
		FROM prices
		WHERE date >= ?
		ORDER BY ticker, date
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query price bars since %s: %w", since, err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// AllBars returns the full price history, ordered by ticker then date
func (r *PriceRepository) AllBars() ([]domain.PriceBar, error) {
	rows, err := r.db.Query(`
		SELECT ticker, date, open, high, low, close, volume
		FROM prices
		ORDER BY ticker, date
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query price bars: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// Bar returns a single bar by its natural key
func (r *PriceRepository) Bar(ticker, date string) (*domain.PriceBar, error) {
	var b domain.PriceBar
	err := r.db.QueryRow(`
		SELECT ticker, date, open, high, low, close, volume
		FROM prices
		WHERE ticker = ? AND date = ?
	`, ticker, date).Scan(&b.Ticker, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query price bar %s/%s: %w", ticker, date, err)
	}
	return &b, nil
}

// Tickers returns the distinct tickers present in the price store
func (r *PriceRepository) Tickers() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT ticker FROM prices ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

func scanBars(rows *sql.Rows) ([]domain.PriceBar, error) {
	var bars []domain.PriceBar
	for rows.Next() {
		var b domain.PriceBar
		if err := rows.Scan(&b.Ticker, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan price bar: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}
