package marketdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/foresight/internal/domain"
)

// ImportService loads price and news CSV drops from a local directory into
// the market store. Files named prices*.csv and news*.csv are picked up;
// successfully imported files are renamed with an .imported suffix so a
// retried run never double-processes them (the upserts are idempotent
// anyway).
//
// Price CSV header: ticker,date,open,high,low,close,volume
// News CSV header:  date,source,headline,sentiment,published_at
type ImportService struct {
	dir    string
	prices *PriceRepository
	news   *NewsRepository
	log    zerolog.Logger
}

// NewImportService creates a new CSV import service
func NewImportService(dir string, prices *PriceRepository, news *NewsRepository, log zerolog.Logger) *ImportService {
	return &ImportService{
		dir:    dir,
		prices: prices,
		news:   news,
		log:    log.With().Str("service", "csv_import").Logger(),
	}
}

// ImportAll scans the import directory and loads every pending file.
// A missing directory is not an error; there is simply nothing to import.
func (s *ImportService) ImportAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Debug().Str("dir", s.dir).Msg("Import directory does not exist, skipping")
			return nil
		}
		return fmt.Errorf("failed to read import directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		var importErr error
		switch {
		case strings.HasPrefix(entry.Name(), "prices"):
			importErr = s.importPrices(path)
		case strings.HasPrefix(entry.Name(), "news"):
			importErr = s.importNews(path)
		default:
			continue
		}

		if importErr != nil {
			return fmt.Errorf("failed to import %s: %w", entry.Name(), importErr)
		}

		if err := os.Rename(path, path+".imported"); err != nil {
			return fmt.Errorf("failed to mark %s as imported: %w", entry.Name(), err)
		}
	}

	return nil
}

func (s *ImportService) importPrices(path string) error {
	records, err := readCSV(path)
	if err != nil {
		return err
	}

	var bars []domain.PriceBar
	for i, rec := range records {
		if len(rec) < 7 {
			return fmt.Errorf("row %d: expected 7 columns, got %d", i+2, len(rec))
		}

		open, err1 := strconv.ParseFloat(rec[2], 64)
		high, err2 := strconv.ParseFloat(rec[3], 64)
		low, err3 := strconv.ParseFloat(rec[4], 64)
		closePx, err4 := strconv.ParseFloat(rec[5], 64)
		volume, err5 := strconv.ParseInt(rec[6], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			return fmt.Errorf("row %d: malformed numeric field", i+2)
		}

		bars = append(bars, domain.PriceBar{
			Ticker: strings.TrimSpace(rec[0]),
			Date:   strings.TrimSpace(rec[1]),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePx,
			Volume: volume,
		})
	}

	inserted, modified, err := s.prices.UpsertBars(bars)
	if err != nil {
		return err
	}

	s.log.Info().
		Str("file", filepath.Base(path)).
		Int("inserted", inserted).
		Int("modified", modified).
		Msg("Imported price bars")
	return nil
}

func (s *ImportService) importNews(path string) error {
	records, err := readCSV(path)
	if err != nil {
		return err
	}

	var samples []domain.NewsSentimentSample
	for i, rec := range records {
		if len(rec) < 5 {
			return fmt.Errorf("row %d: expected 5 columns, got %d", i+2, len(rec))
		}

		sentiment, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			return fmt.Errorf("row %d: malformed sentiment: %w", i+2, err)
		}
		if sentiment < -1 || sentiment > 1 {
			return fmt.Errorf("row %d: sentiment %.3f outside [-1, 1]", i+2, sentiment)
		}

		samples = append(samples, domain.NewsSentimentSample{
			Date:        strings.TrimSpace(rec[0]),
			Source:      strings.TrimSpace(rec[1]),
			Headline:    strings.TrimSpace(rec[2]),
			Sentiment:   sentiment,
			PublishedAt: strings.TrimSpace(rec[4]),
		})
	}

	inserted, modified, err := s.news.UpsertSamples(samples)
	if err != nil {
		return err
	}

	s.log.Info().
		Str("file", filepath.Base(path)).
		Int("inserted", inserted).
		Int("modified", modified).
		Msg("Imported news samples")
	return nil
}

// readCSV returns all data rows, skipping the header line
func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	// Skip header
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	var records [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
