package features

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/foresight/internal/domain"
)

// MinObservations is the minimum price-bar count a ticker needs before any
// feature rows are produced for it. Shorter histories are excluded and
// logged, never zero-filled.
const MinObservations = 15

// Indicator windows
const (
	rsiPeriod  = 14
	adxPeriod  = 14
	volWindow  = 20
	zWindow    = 20
	ret5Lag    = 5
)

// Engine turns raw price bars and news sentiment into the daily feature
// table, one row per (ticker, trading day).
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a new feature engine
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		log: log.With().Str("component", "feature_engine").Logger(),
	}
}

// Build computes feature vectors for every ticker with enough history and
// left-joins the daily market sentiment summary. Rows whose ret1 is
// undefined are dropped; every other indicator may carry its neutral
// fallback, with the reasons recorded on the row.
func (e *Engine) Build(bars []domain.PriceBar, sentiment map[string]domain.MarketSentimentSummary) []domain.FeatureVector {
	byTicker := groupByTicker(bars)

	tickers := make([]string, 0, len(byTicker))
	for t := range byTicker {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	var out []domain.FeatureVector
	for _, ticker := range tickers {
		series := byTicker[ticker]
		if len(series) < MinObservations {
			e.log.Info().
				Str("ticker", ticker).
				Int("bars", len(series)).
				Int("required", MinObservations).
				Msg("Skipping ticker with insufficient history")
			continue
		}
		out = append(out, e.buildTicker(ticker, series, sentiment)...)
	}

	e.log.Info().Int("rows", len(out)).Int("tickers", len(tickers)).Msg("Feature build complete")
	return out
}

func (e *Engine) buildTicker(ticker string, series []domain.PriceBar, sentiment map[string]domain.MarketSentimentSummary) []domain.FeatureVector {
	n := len(series)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, bar := range series {
		closes[i] = bar.Close
		highs[i] = bar.High
		lows[i] = bar.Low
	}

	ret1 := LogReturns(closes, 1)
	ret5 := LogReturns(closes, ret5Lag)
	vol20 := RollingVolatility(ret1, volWindow)
	rsi14 := RSI(closes, rsiPeriod)
	macd := MACDLine(closes)
	adx14 := ADX(highs, lows, closes, adxPeriod)
	zClose := ZScore(closes, zWindow)

	rows := make([]domain.FeatureVector, 0, n-1)
	for i := 0; i < n; i++ {
		// ret1 is the one mandatory field; its warm-up row is dropped
		if ret1[i].Neutral {
			continue
		}

		row := domain.FeatureVector{
			Ticker:   ticker,
			Date:     series[i].Date,
			Ret1:     ret1[i].Value,
			Ret5:     ret5[i].Value,
			Vol20:    vol20[i].Value,
			RSI14:    rsi14[i].Value,
			MACD:     macd[i].Value,
			ADX14:    adx14[i].Value,
			ZClose20: zClose[i].Value,
		}
		row.Fallbacks = provenance(ret5[i], vol20[i], rsi14[i], macd[i], adx14[i], zClose[i])

		if summary, ok := sentiment[series[i].Date]; ok {
			row.MarketSentimentMean = summary.Mean
			row.MarketSentimentMax = summary.Max
			row.MarketSentimentCount = summary.Count
		}

		rows = append(rows, row)
	}
	return rows
}

// provenance joins the neutral-fallback reasons of a row, pipe-separated
func provenance(values ...IndicatorValue) string {
	var reasons []string
	for _, v := range values {
		if v.Neutral {
			reasons = append(reasons, v.Reason)
		}
	}
	return strings.Join(reasons, "|")
}

// groupByTicker groups bars per ticker, each group sorted by date ascending
func groupByTicker(bars []domain.PriceBar) map[string][]domain.PriceBar {
	byTicker := make(map[string][]domain.PriceBar)
	for _, bar := range bars {
		byTicker[bar.Ticker] = append(byTicker[bar.Ticker], bar)
	}
	for ticker := range byTicker {
		series := byTicker[ticker]
		sort.Slice(series, func(i, j int) bool { return series[i].Date < series[j].Date })
		byTicker[ticker] = series
	}
	return byTicker
}
