// Package domain contains the core data types shared across the pipeline.
// The domain layer is pure: no database, HTTP, or logging dependencies.
package domain

import "time"

// DateFormat is the canonical trading-day format used everywhere dates are
// stored or compared. Feature history is indexed by trading day, not by
// timestamp.
const DateFormat = "2006-01-02"

// NextDay advances a YYYY-MM-DD date string by one day. It is the single
// day-advance helper shared by the Predictor (target_date stamp) and the
// Evaluator, so the two sides always agree on the day unit.
func NextDay(date string) string {
	t, err := time.Parse(DateFormat, date)
	if err != nil {
		return date
	}
	return t.AddDate(0, 0, 1).Format(DateFormat)
}

// PriceBar is a single day's OHLCV record for a ticker
// (a bhavcopy-equivalent bar). Natural key (ticker, date); re-ingestion for
// the same key replaces the bar.
type PriceBar struct {
	Ticker     string  `json:"ticker"`
	Date       string  `json:"date"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     int64   `json:"volume"`
	DataSource string  `json:"data_source,omitempty"`
}

// NewsSentimentSample is one scored headline. Samples are market-wide; they
// are never joined to individual tickers.
type NewsSentimentSample struct {
	Date        string  `json:"date"`
	Source      string  `json:"source"`
	Headline    string  `json:"headline"`
	Sentiment   float64 `json:"sentiment"` // in [-1, 1]
	PublishedAt string  `json:"published_at"`
}

// MarketSentimentSummary aggregates all sentiment samples of one date.
type MarketSentimentSummary struct {
	Date  string  `json:"date"`
	Mean  float64 `json:"mean"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// FeatureVector is one engineered row per (ticker, trading day).
// Fallbacks records which indicator fields carry their neutral constant
// instead of a computed value, and why.
type FeatureVector struct {
	Ticker               string  `json:"ticker"`
	Date                 string  `json:"date"`
	Ret1                 float64 `json:"ret1"`
	Ret5                 float64 `json:"ret5"`
	Vol20                float64 `json:"vol20"`
	RSI14                float64 `json:"rsi14"`
	MACD                 float64 `json:"macd"`
	ADX14                float64 `json:"adx14"`
	ZClose20             float64 `json:"z_close_20"`
	MarketSentimentMean  float64 `json:"market_sentiment_mean"`
	MarketSentimentMax   float64 `json:"market_sentiment_max"`
	MarketSentimentCount int     `json:"market_sentiment_count"`
	Fallbacks            string  `json:"fallbacks,omitempty"`
}

// FeatureColumns is the ordered feature set fed to the model. The order is
// the model's input contract: it is recorded on every ModelArtifact and
// checked at scoring time.
var FeatureColumns = []string{
	"ret1", "ret5", "vol20", "rsi14", "macd", "adx14", "z_close_20",
	"market_sentiment_mean", "market_sentiment_max", "market_sentiment_count",
}

// Values returns the row's feature values in the given column order.
// Unknown columns report false.
func (f *FeatureVector) Values(columns []string) ([]float64, bool) {
	out := make([]float64, len(columns))
	for i, col := range columns {
		switch col {
		case "ret1":
			out[i] = f.Ret1
		case "ret5":
			out[i] = f.Ret5
		case "vol20":
			out[i] = f.Vol20
		case "rsi14":
			out[i] = f.RSI14
		case "macd":
			out[i] = f.MACD
		case "adx14":
			out[i] = f.ADX14
		case "z_close_20":
			out[i] = f.ZClose20
		case "market_sentiment_mean":
			out[i] = f.MarketSentimentMean
		case "market_sentiment_max":
			out[i] = f.MarketSentimentMax
		case "market_sentiment_count":
			out[i] = float64(f.MarketSentimentCount)
		default:
			return nil, false
		}
	}
	return out, true
}

// ModelArtifact is one entry in the append-only model version log.
type ModelArtifact struct {
	ModelID        int64     `json:"model_id"`
	ModelType      string    `json:"model_type"`
	FeatureColumns []string  `json:"feature_columns"`
	Parameters     []byte    `json:"-"` // msgpack-encoded ensemble
	TrainingDate   string    `json:"training_date"`
	CVError        float64   `json:"cv_mae"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// Prediction is one next-day return forecast.
// Key (ticker, prediction_date, model_id); reruns replace.
type Prediction struct {
	Ticker         string  `json:"ticker"`
	PredictionDate string  `json:"prediction_date"`
	TargetDate     string  `json:"target_date"`
	YPred          float64 `json:"y_pred"`
	Confidence     float64 `json:"confidence"`
	ModelID        int64   `json:"model_id"`
}

// Evaluation joins a prediction to its realized outcome one trading day
// later. Key (ticker, target_date).
type Evaluation struct {
	Ticker         string  `json:"ticker"`
	TargetDate     string  `json:"target_date"`
	YPred          float64 `json:"y_pred"`
	YTrue          float64 `json:"y_true"`
	AbsGap         float64 `json:"abs_gap"`
	SignedGap      float64 `json:"signed_gap"`
	Explanation    string  `json:"explanation_text"`
	EvaluationDate string  `json:"evaluation_date"`
	ModelID        int64   `json:"model_id"`
}
