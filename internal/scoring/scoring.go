// Package scoring turns raw indicator values into 0-100 scores by min/max
// normalization across all EPCIs carrying a value for the indicator.
package scoring

import (
	"sort"

	"diag360/api/internal/store"
)

// minSpan keeps the normalization defined when every EPCI reports the same
// value; such a series scores 0 everywhere.
const minSpan = 1e-9

// Compute normalizes each indicator's raw values independently and returns
// one score row per (EPCI, indicator). The need/objective/type columns stay
// null here: the rollups are computed at read time from the relationship
// caches.
func Compute(values map[string]map[string]float64, year int) []store.IndicatorScore {
	var scores []store.IndicatorScore
	for _, indicatorID := range sortedKeys(values) {
		byEPCI := values[indicatorID]
		if len(byEPCI) == 0 {
			continue
		}
		low, high := bounds(byEPCI)
		span := high - low
		if span < minSpan {
			span = minSpan
		}
		for _, epciID := range sortedKeys(byEPCI) {
			raw := byEPCI[epciID]
			score := (raw - low) / span * 100
			scores = append(scores, store.IndicatorScore{
				EPCIID:         epciID,
				IndicatorID:    indicatorID,
				Year:           year,
				IndicatorScore: &score,
				GlobalScore:    &score,
				Report: map[string]any{
					"valeur_brute": raw,
					"min":          low,
					"max":          high,
				},
			})
		}
	}
	return scores
}

func bounds(byEPCI map[string]float64) (low, high float64) {
	first := true
	for _, value := range byEPCI {
		if first {
			low, high = value, value
			first = false
			continue
		}
		if value < low {
			low = value
		}
		if value > high {
			high = value
		}
	}
	return low, high
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
