// Package features computes technical indicators and assembles the daily
// feature table consumed by the trainer and predictor.
package features

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"
)

// Neutral fallback constants. When an indicator cannot be computed for a row
// (warm-up, degenerate window) the row carries the neutral value instead of
// an undefined one, keeping the feature table dense even for short
// histories.
const (
	NeutralRSI  = 50.0
	NeutralADX  = 25.0
	NeutralMACD = 0.0
)

// MACD parameters (standard 12/26/9)
const (
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
)

// IndicatorValue is the explicit result variant for one indicator at one
// row: either a computed value, or the neutral fallback with the reason it
// was taken. Reasons are carried into the feature row's provenance.
type IndicatorValue struct {
	Value   float64
	Neutral bool
	Reason  string
}

// Computed wraps a successfully computed value
func Computed(v float64) IndicatorValue {
	return IndicatorValue{Value: v}
}

// Fallback wraps a neutral constant with the reason it was used
func Fallback(v float64, reason string) IndicatorValue {
	return IndicatorValue{Value: v, Neutral: true, Reason: reason}
}

// LogReturns computes ln(close[i]) - ln(close[i-lag]) for every row.
// Rows with i < lag fall back to 0 with a warm-up reason; for lag 1 the
// caller (the feature engine) drops those rows entirely, since ret1 is the
// one mandatory field.
func LogReturns(closes []float64, lag int) []IndicatorValue {
	out := make([]IndicatorValue, len(closes))
	logs := make([]float64, len(closes))
	for i, c := range closes {
		logs[i] = math.Log(c)
	}
	for i := range closes {
		if i < lag {
			out[i] = Fallback(0, fmt.Sprintf("ret%d warm-up", lag))
			continue
		}
		out[i] = Computed(logs[i] - logs[i-lag])
	}
	return out
}

// RollingVolatility computes the rolling population standard deviation of
// ret1 over the trailing window. Rows before the window is full fall back
// to 0. The population convention (talib's) is used in training and serving
// alike.
func RollingVolatility(ret1 []IndicatorValue, window int) []IndicatorValue {
	out := make([]IndicatorValue, len(ret1))

	// ret1[0] is undefined; the rolling window runs over the defined tail
	values := make([]float64, 0, len(ret1))
	for i := 1; i < len(ret1); i++ {
		values = append(values, ret1[i].Value)
	}

	var std []float64
	if len(values) >= window {
		std = talib.StdDev(values, window, 1.0)
	}

	for i := range ret1 {
		// Bar i maps to values[i-1]; need window ret1 observations
		if i < window || std == nil {
			out[i] = Fallback(0, "vol20 warm-up")
			continue
		}
		out[i] = Computed(std[i-1])
	}
	return out
}

// RSI computes the Relative Strength Index with the window capped at
// min(period, n-1). Rows inside the capped window's warm-up fall back to
// the neutral 50.
func RSI(closes []float64, period int) []IndicatorValue {
	out := make([]IndicatorValue, len(closes))

	window := period
	if len(closes)-1 < window {
		window = len(closes) - 1
	}
	if window < 1 {
		for i := range out {
			out[i] = Fallback(NeutralRSI, "rsi window unavailable")
		}
		return out
	}

	rsi := talib.Rsi(closes, window)
	for i := range closes {
		if i < window {
			out[i] = Fallback(NeutralRSI, "rsi warm-up")
			continue
		}
		out[i] = Computed(rsi[i])
	}
	return out
}

// MACDLine computes the MACD line (12/26/9). The signal line's own warm-up
// is included in the lookback; rows before it fall back to the neutral 0.
func MACDLine(closes []float64) []IndicatorValue {
	out := make([]IndicatorValue, len(closes))

	// talib's MACD lookback: slow EMA warm-up plus signal EMA warm-up
	lookback := macdSlow - 1 + macdSignal - 1

	if len(closes) <= lookback {
		for i := range out {
			out[i] = Fallback(NeutralMACD, "macd window unavailable")
		}
		return out
	}

	macd, _, _ := talib.Macd(closes, macdFast, macdSlow, macdSignal)
	for i := range closes {
		if i < lookback {
			out[i] = Fallback(NeutralMACD, "macd warm-up")
			continue
		}
		out[i] = Computed(macd[i])
	}
	return out
}

// ADX computes the Average Directional Index with the window capped at
// min(period, n-1). ADX needs twice the window to stabilize; earlier rows
// fall back to the neutral 25.
func ADX(highs, lows, closes []float64, period int) []IndicatorValue {
	out := make([]IndicatorValue, len(closes))

	window := period
	if len(closes)-1 < window {
		window = len(closes) - 1
	}
	lookback := 2*window - 1
	if window < 2 || len(closes) <= lookback {
		for i := range out {
			out[i] = Fallback(NeutralADX, "adx window unavailable")
		}
		return out
	}

	adx := talib.Adx(highs, lows, closes, window)
	for i := range closes {
		if i < lookback {
			out[i] = Fallback(NeutralADX, "adx warm-up")
			continue
		}
		out[i] = Computed(adx[i])
	}
	return out
}

// ZScore computes (close - SMA(window)) / StdDev(window). Rows before the
// window is full, and rows whose window has zero variance (flat prices),
// fall back to 0, the explicit division-by-zero policy.
func ZScore(closes []float64, window int) []IndicatorValue {
	out := make([]IndicatorValue, len(closes))

	if len(closes) < window {
		for i := range out {
			out[i] = Fallback(0, "z_close warm-up")
		}
		return out
	}

	sma := talib.Sma(closes, window)
	std := talib.StdDev(closes, window, 1.0)

	for i := range closes {
		if i < window-1 {
			out[i] = Fallback(0, "z_close warm-up")
			continue
		}
		if std[i] == 0 {
			out[i] = Fallback(0, "z_close zero-variance window")
			continue
		}
		out[i] = Computed((closes[i] - sma[i]) / std[i])
	}
	return out
}
