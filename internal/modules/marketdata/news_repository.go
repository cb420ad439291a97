package marketdata

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/foresight/internal/domain"
)

// NewsRepository provides access to the news table in market.db
type NewsRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewNewsRepository creates a new news repository
func NewNewsRepository(db *sql.DB, log zerolog.Logger) *NewsRepository {
	return &NewsRepository{
		db:  db,
		log: log.With().Str("repository", "news").Logger(),
	}
}

// UpsertSamples inserts or replaces sentiment samples keyed by
// (date, source, headline). Returns inserted and modified counts.
func (r *NewsRepository) UpsertSamples(samples []domain.NewsSentimentSample) (inserted, modified int, err error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin news upsert: %w", err)
	}
	defer tx.Rollback()

	existsStmt, err := tx.Prepare(`SELECT 1 FROM news WHERE date = ? AND source = ? AND headline = ?`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare exists statement: %w", err)
	}
	defer existsStmt.Close()

	upsertStmt, err := tx.Prepare(`
		INSERT INTO news (date, source, headline, sentiment, published_at, updated_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(date, source, headline) DO UPDATE SET
			sentiment = excluded.sentiment,
			published_at = excluded.published_at,
			updated_at = datetime('now')
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare news upsert: %w", err)
	}
	defer upsertStmt.Close()

	for _, s := range samples {
		var one int
		existed := true
		if err := existsStmt.QueryRow(s.Date, s.Source, s.Headline).Scan(&one); err != nil {
			if err != sql.ErrNoRows {
				return 0, 0, fmt.Errorf("failed to check news sample: %w", err)
			}
			existed = false
		}

		if _, err := upsertStmt.Exec(s.Date, s.Source, s.Headline, s.Sentiment, s.PublishedAt); err != nil {
			return 0, 0, fmt.Errorf("failed to upsert news sample %s/%s: %w", s.Date, s.Source, err)
		}

		if existed {
			modified++
		} else {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit news upsert: %w", err)
	}

	r.log.Debug().Int("inserted", inserted).Int("modified", modified).Msg("News samples upserted")
	return inserted, modified, nil
}

// SentimentSummaries aggregates samples into one MarketSentimentSummary per
// date with date >= since. Samples are market-wide: the aggregation never
// splits by ticker.
func (r *NewsRepository) SentimentSummaries(since string) (map[string]domain.MarketSentimentSummary, error) {
	rows, err := r.db.Query(`
		SELECT date, AVG(sentiment), MAX(sentiment), COUNT(*)
		FROM news
		WHERE date >= ?
		GROUP BY date
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query sentiment summaries: %w", err)
	}
	defer rows.Close()

	summaries := make(map[string]domain.MarketSentimentSummary)
	for rows.Next() {
		var s domain.MarketSentimentSummary
		if err := rows.Scan(&s.Date, &s.Mean, &s.Max, &s.Count); err != nil {
			return nil, fmt.Errorf("failed to scan sentiment summary: %w", err)
		}
		summaries[s.Date] = s
	}
	return summaries, rows.Err()
}
