package marketdata

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/foresight/internal/database"
	"github.com/aristath/foresight/internal/domain"
)

func setupMarketDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "market.db"),
		Profile: database.ProfileStandard,
		Name:    "market",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func bar(ticker, date string, close float64) domain.PriceBar {
	return domain.PriceBar{
		Ticker: ticker,
		Date:   date,
		Open:   close * 0.99,
		High:   close * 1.01,
		Low:    close * 0.98,
		Close:  close,
		Volume: 10000,
	}
}

func TestPriceRepositoryUpsert(t *testing.T) {
	db := setupMarketDB(t)
	repo := NewPriceRepository(db.Conn(), zerolog.Nop())

	inserted, modified, err := repo.UpsertBars([]domain.PriceBar{
		bar("AAA", "2026-08-10", 100),
		bar("AAA", "2026-08-11", 101),
		bar("BBB", "2026-08-10", 50),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)
	assert.Equal(t, 0, modified)

	// Re-ingestion replaces the bar in place
	inserted, modified, err = repo.UpsertBars([]domain.PriceBar{bar("AAA", "2026-08-10", 102)})
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	assert.Equal(t, 1, modified)

	stored, err := repo.Bar("AAA", "2026-08-10")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.InDelta(t, 102, stored.Close, 1e-9)

	missing, err := repo.Bar("AAA", "1999-01-01")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPriceRepositoryBarsSince(t *testing.T) {
	db := setupMarketDB(t)
	repo := NewPriceRepository(db.Conn(), zerolog.Nop())

	_, _, err := repo.UpsertBars([]domain.PriceBar{
		bar("BBB", "2026-08-09", 50),
		bar("AAA", "2026-08-10", 100),
		bar("AAA", "2026-08-09", 99),
	})
	require.NoError(t, err)

	bars, err := repo.BarsSince("2026-08-10")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "AAA", bars[0].Ticker)

	all, err := repo.AllBars()
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Ordered by ticker then date
	assert.Equal(t, "2026-08-09", all[0].Date)
	assert.Equal(t, "AAA", all[0].Ticker)
	assert.Equal(t, "BBB", all[2].Ticker)

	tickers, err := repo.Tickers()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "BBB"}, tickers)
}

func TestNewsRepositoryUpsert(t *testing.T) {
	db := setupMarketDB(t)
	repo := NewNewsRepository(db.Conn(), zerolog.Nop())

	samples := []domain.NewsSentimentSample{
		{Date: "2026-08-10", Source: "wire", Headline: "Markets rally", Sentiment: 0.6, PublishedAt: "2026-08-10T09:00:00Z"},
		{Date: "2026-08-10", Source: "wire", Headline: "Fed holds rates", Sentiment: 0.1, PublishedAt: "2026-08-10T14:00:00Z"},
	}
	inserted, modified, err := repo.UpsertSamples(samples)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	assert.Equal(t, 0, modified)

	// Same (date, source, headline) updates the sentiment
	samples[0].Sentiment = 0.8
	inserted, modified, err = repo.UpsertSamples(samples[:1])
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	assert.Equal(t, 1, modified)
}

func TestSentimentSummaries(t *testing.T) {
	db := setupMarketDB(t)
	repo := NewNewsRepository(db.Conn(), zerolog.Nop())

	_, _, err := repo.UpsertSamples([]domain.NewsSentimentSample{
		{Date: "2026-08-10", Source: "wire", Headline: "a", Sentiment: 0.5, PublishedAt: "t1"},
		{Date: "2026-08-10", Source: "wire", Headline: "b", Sentiment: -0.1, PublishedAt: "t2"},
		{Date: "2026-08-10", Source: "blog", Headline: "c", Sentiment: 0.2, PublishedAt: "t3"},
		{Date: "2026-08-11", Source: "wire", Headline: "d", Sentiment: -0.4, PublishedAt: "t4"},
		{Date: "2026-08-01", Source: "wire", Headline: "old", Sentiment: 1.0, PublishedAt: "t0"},
	})
	require.NoError(t, err)

	summaries, err := repo.SentimentSummaries("2026-08-10")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	day := summaries["2026-08-10"]
	assert.InDelta(t, 0.2, day.Mean, 1e-9)
	assert.InDelta(t, 0.5, day.Max, 1e-9)
	assert.Equal(t, 3, day.Count)

	next := summaries["2026-08-11"]
	assert.InDelta(t, -0.4, next.Mean, 1e-9)
	assert.Equal(t, 1, next.Count)
}
