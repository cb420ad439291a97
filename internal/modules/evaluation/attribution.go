// Package evaluation joins predictions to realized next-day returns,
// computes error metrics, and produces the global feature-attribution
// explanation.
package evaluation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/aristath/foresight/internal/domain"
	"github.com/aristath/foresight/internal/modules/training"
)

// TopKFeatures is the length of the published attribution ranking
const TopKFeatures = 6

// unavailableExplanation is the degraded explanation text used when the
// attribution computation fails or has no data to work with
const unavailableExplanation = "Model drivers unavailable (insufficient historical data)"

// FeatureImportance is one entry of the global attribution ranking
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// GlobalAttribution ranks features by mean absolute additive contribution
// across the given rows. The ranking is global: it describes the model's
// overall feature reliance on that day's matrix, not any individual
// prediction.
func GlobalAttribution(model *training.GBTModel, rows []domain.FeatureVector, columns []string, topK int) ([]FeatureImportance, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows to attribute", domain.ErrDataUnavailable)
	}

	totals := make([]float64, len(columns))
	for i := range rows {
		x, ok := rows[i].Values(columns)
		if !ok {
			return nil, fmt.Errorf("%w: row lacks a model column", domain.ErrInputContractMismatch)
		}
		contribs, err := model.Contributions(x)
		if err != nil {
			return nil, fmt.Errorf("failed to attribute row %s/%s: %w", rows[i].Ticker, rows[i].Date, err)
		}
		for j, c := range contribs {
			totals[j] += math.Abs(c)
		}
	}

	ranking := make([]FeatureImportance, len(columns))
	for j, col := range columns {
		ranking[j] = FeatureImportance{
			Feature:    col,
			Importance: totals[j] / float64(len(rows)),
		}
	}
	sort.Slice(ranking, func(i, j int) bool { return ranking[i].Importance > ranking[j].Importance })

	if topK > 0 && topK < len(ranking) {
		ranking = ranking[:topK]
	}
	return ranking, nil
}

// ExplanationText stringifies the ranking into the shared explanation
// carried by every evaluated row of a run
func ExplanationText(ranking []FeatureImportance) string {
	if len(ranking) == 0 {
		return unavailableExplanation
	}
	names := make([]string, len(ranking))
	for i, fi := range ranking {
		names[i] = fi.Feature
	}
	return "Key drivers (global attribution): " + strings.Join(names, ", ")
}
