package marketdata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupImportService(t *testing.T) (*ImportService, string, *PriceRepository, *NewsRepository) {
	t.Helper()
	db := setupMarketDB(t)
	prices := NewPriceRepository(db.Conn(), zerolog.Nop())
	news := NewNewsRepository(db.Conn(), zerolog.Nop())

	dir := filepath.Join(t.TempDir(), "import")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	return NewImportService(dir, prices, news, zerolog.Nop()), dir, prices, news
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestImportAllPricesAndNews(t *testing.T) {
	svc, dir, prices, news := setupImportService(t)

	writeFile(t, filepath.Join(dir, "prices-2026-08-10.csv"),
		"ticker,date,open,high,low,close,volume\n"+
			"AAA,2026-08-10,99.0,101.0,98.5,100.0,10000\n"+
			"BBB,2026-08-10,49.5,50.5,49.0,50.0,20000\n")
	writeFile(t, filepath.Join(dir, "news-2026-08-10.csv"),
		"date,source,headline,sentiment,published_at\n"+
			"2026-08-10,wire,Markets rally,0.6,2026-08-10T09:00:00Z\n")

	require.NoError(t, svc.ImportAll())

	bars, err := prices.AllBars()
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "AAA", bars[0].Ticker)
	assert.InDelta(t, 100.0, bars[0].Close, 1e-9)

	summaries, err := news.SentimentSummaries("1970-01-01")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries["2026-08-10"].Count)

	// Processed files are renamed so the next run skips them
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.True(t, filepath.Ext(e.Name()) == ".imported", e.Name())
	}

	require.NoError(t, svc.ImportAll())
	bars, err = prices.AllBars()
	require.NoError(t, err)
	assert.Len(t, bars, 2)
}

func TestImportIgnoresUnrelatedFiles(t *testing.T) {
	svc, dir, prices, _ := setupImportService(t)

	writeFile(t, filepath.Join(dir, "notes.txt"), "not a csv")
	writeFile(t, filepath.Join(dir, "other.csv"), "a,b\n1,2\n")

	require.NoError(t, svc.ImportAll())

	bars, err := prices.AllBars()
	require.NoError(t, err)
	assert.Empty(t, bars)

	// Unmatched files stay untouched
	_, err = os.Stat(filepath.Join(dir, "other.csv"))
	assert.NoError(t, err)
}

func TestImportRejectsOutOfRangeSentiment(t *testing.T) {
	svc, dir, _, news := setupImportService(t)

	writeFile(t, filepath.Join(dir, "news-bad.csv"),
		"date,source,headline,sentiment,published_at\n"+
			"2026-08-10,wire,Too bullish,1.5,2026-08-10T09:00:00Z\n")

	err := svc.ImportAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside [-1, 1]")

	// Failed files are not marked as imported
	_, statErr := os.Stat(filepath.Join(dir, "news-bad.csv"))
	assert.NoError(t, statErr)

	summaries, err := news.SentimentSummaries("1970-01-01")
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestImportRejectsMalformedPrices(t *testing.T) {
	svc, dir, _, _ := setupImportService(t)

	writeFile(t, filepath.Join(dir, "prices-bad.csv"),
		"ticker,date,open,high,low,close,volume\n"+
			"AAA,2026-08-10,not-a-number,101.0,98.5,100.0,10000\n")

	err := svc.ImportAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed numeric field")
}

func TestImportMissingDirectory(t *testing.T) {
	db := setupMarketDB(t)
	svc := NewImportService(
		filepath.Join(t.TempDir(), "does-not-exist"),
		NewPriceRepository(db.Conn(), zerolog.Nop()),
		NewNewsRepository(db.Conn(), zerolog.Nop()),
		zerolog.Nop(),
	)

	assert.NoError(t, svc.ImportAll())
}
