// Package scorer rates each quantile of one chunk's forecast against the realized prices.
package scorer

import (
	"math"

	"github.com/aristath/forecastbt/internal/domain"
	"gonum.org/v1/gonum/floats"
)

// DiffPctPenalty replaces the relative return difference when the chunk's realized
// return is zero or negative and the ratio has no meaningful denominator.
// It is finite so the chunk still ranks, but large enough that any level scored
// against a positive realized return beats it.
const DiffPctPenalty = 1e6

// Weights of the per-chunk combined error score
const (
	CombinedMSEWeight = 0.5
	CombinedMAEWeight = 0.5
)

// Metrics is the score of one quantile level for one chunk
type Metrics struct {
	Predicted []float64 `json:"predicted"`
	Actual    []float64 `json:"actual"`
	MSE       float64   `json:"mse"`
	MAE       float64   `json:"mae"`
	Combined  float64   `json:"combined_score"`
	PredPct   float64   `json:"pred_pct"`
	ActualPct float64   `json:"actual_pct"`
	DiffPct   float64   `json:"diff_pct"`
	ReturnGap float64   `json:"return_gap"` // |PredPct - ActualPct| in percentage points
}

// Result is the per-chunk outcome across all quantile levels
type Result struct {
	Metrics      map[domain.QuantileLevel]Metrics `json:"metrics"`
	BestByError  domain.QuantileLevel             `json:"best_by_error"`
	BestByReturn domain.QuantileLevel             `json:"best_by_return"`
	Valid        bool                             `json:"valid"`
}

// Best returns the metrics of the best-by-error level
func (r Result) Best() (Metrics, bool) {
	if !r.Valid {
		return Metrics{}, false
	}
	m, ok := r.Metrics[r.BestByError]
	return m, ok
}

// Score evaluates every evaluated level of the forecast against actual.
// anchor is the last realized price strictly before the chunk.
func Score(actual []float64, forecast domain.QuantileForecast, anchor float64) Result {
	result := Result{
		Metrics:      make(map[domain.QuantileLevel]Metrics),
		BestByError:  domain.NoValidQuantile,
		BestByReturn: domain.NoValidQuantile,
	}
	if len(actual) == 0 || !(anchor > 0) || math.IsInf(anchor, 0) {
		return result
	}

	bestScore := math.Inf(1)
	bestDiff := math.Inf(1)
	for _, level := range domain.EvaluatedLevels {
		pred, ok := forecast[level]
		if !ok {
			continue
		}
		m, ok := ScoreLevel(actual, pred, anchor)
		if !ok {
			continue
		}
		result.Metrics[level] = m

		// strict comparison keeps the earlier level on ties
		if m.Combined < bestScore {
			bestScore = m.Combined
			result.BestByError = level
		}
		if m.DiffPct < bestDiff {
			bestDiff = m.DiffPct
			result.BestByReturn = level
		}
	}

	result.Valid = len(result.Metrics) > 0
	return result
}

// ScoreLevel scores a single predicted sequence. The sequences are trimmed to
// equal length first; ok is false when nothing comparable remains.
func ScoreLevel(actual, predicted []float64, anchor float64) (Metrics, bool) {
	n := len(actual)
	if len(predicted) < n {
		n = len(predicted)
	}
	if n == 0 {
		return Metrics{}, false
	}
	a := append([]float64(nil), actual[:n]...)
	p := append([]float64(nil), predicted[:n]...)
	if !allFinite(a) || !allFinite(p) {
		return Metrics{}, false
	}

	l2 := floats.Distance(p, a, 2)
	mse := l2 * l2 / float64(n)
	mae := floats.Distance(p, a, 1) / float64(n)

	predPct := (p[n-1]/anchor - 1) * 100
	actualPct := (a[n-1]/anchor - 1) * 100

	return Metrics{
		Predicted: p,
		Actual:    a,
		MSE:       mse,
		MAE:       mae,
		Combined:  CombinedMSEWeight*mse + CombinedMAEWeight*mae,
		PredPct:   predPct,
		ActualPct: actualPct,
		DiffPct:   DiffPct(predPct, actualPct),
		ReturnGap: math.Abs(predPct - actualPct),
	}, true
}

// DiffPct is |pred - actual| / |actual|, or DiffPctPenalty when actual <= 0
func DiffPct(predPct, actualPct float64) float64 {
	if actualPct <= 0 {
		return DiffPctPenalty
	}
	return math.Abs(predPct-actualPct) / math.Abs(actualPct)
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
