package walkforward

import (
	"errors"
	"math"

	"github.com/aristath/forecastbt/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// Composite score weights used to pick one quantile across the whole test region.
// The return term uses the variance across chunks, so a level that is right on
// average but erratic from chunk to chunk ranks worse.
const (
	SelectionMSEWeight      = 0.3
	SelectionMAEWeight      = 0.3
	SelectionVarianceWeight = 0.4
)

// ErrNoScorableChunks is returned when no chunk produced metrics for any level
var ErrNoScorableChunks = errors.New("no successfully scored chunks to select from")

// LevelAggregate is one level's aggregate across all successful chunks
type LevelAggregate struct {
	Level              domain.QuantileLevel `json:"level"`
	Chunks             int                  `json:"chunks"`
	MeanMSE            float64              `json:"mean_mse"`
	MeanMAE            float64              `json:"mean_mae"`
	MeanReturnDiff     float64              `json:"mean_return_diff"`
	ReturnDiffVariance float64              `json:"return_diff_variance"`
	Composite          float64              `json:"composite_score"`
}

// Selection is the single quantile chosen for the whole test region
type Selection struct {
	LevelAggregate
	Candidates []LevelAggregate `json:"candidates"`
}

// Select aggregates per-level metrics over every non-failed chunk and returns the
// level with the lowest composite score. Ties keep the earlier level in
// domain.EvaluatedLevels order, so identical input always selects the same level.
func Select(results []ChunkResult) (Selection, error) {
	var sel Selection
	best := math.Inf(1)

	for _, level := range domain.EvaluatedLevels {
		var mses, maes, gaps []float64
		for _, r := range results {
			if r.Failed || !r.Score.Valid {
				continue
			}
			m, ok := r.Score.Metrics[level]
			if !ok {
				continue
			}
			mses = append(mses, m.MSE)
			maes = append(maes, m.MAE)
			gaps = append(gaps, m.ReturnGap)
		}
		if len(mses) == 0 {
			continue
		}

		meanGap, variance := stat.PopMeanVariance(gaps, nil)
		agg := LevelAggregate{
			Level:              level,
			Chunks:             len(mses),
			MeanMSE:            stat.Mean(mses, nil),
			MeanMAE:            stat.Mean(maes, nil),
			MeanReturnDiff:     meanGap,
			ReturnDiffVariance: variance,
		}
		agg.Composite = SelectionMSEWeight*agg.MeanMSE +
			SelectionMAEWeight*agg.MeanMAE +
			SelectionVarianceWeight*agg.ReturnDiffVariance
		sel.Candidates = append(sel.Candidates, agg)

		if agg.Composite < best {
			best = agg.Composite
			sel.LevelAggregate = agg
		}
	}

	// candidates whose composite is NaN or +Inf never win
	if len(sel.Candidates) == 0 || sel.Level == "" {
		return Selection{}, ErrNoScorableChunks
	}
	return sel, nil
}
