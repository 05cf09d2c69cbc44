package persistence

import (
	"math"
	"time"

	"github.com/aristath/forecastbt/internal/clients/store"
	"github.com/aristath/forecastbt/internal/domain"
	"github.com/aristath/forecastbt/internal/modules/backtest"
	"github.com/aristath/forecastbt/internal/modules/walkforward"
)

const dateLayout = "2006-01-02"

// RunArtifacts is everything a finished run hands to the store
type RunArtifacts struct {
	Symbol       string
	StockType    int
	HorizonLen   int
	ContextLen   int
	ModelVersion string
	Owner        *int
	IsPublic     bool
	StrategyName string

	Split      domain.Split
	Evaluation *walkforward.Report
	Backtest   *backtest.Result

	ValidationBenchmark  backtest.Returns
	ValidationPeriodDays int
}

// Key returns the unique key all records of the run are stored under
func (a RunArtifacts) Key() string {
	return UniqueKey(a.Symbol, a.HorizonLen, a.ContextLen, a.ModelVersion, a.Owner)
}

// BestRecord builds the parent record from the selection
func (a RunArtifacts) BestRecord() store.BestRecord {
	rec := store.BestRecord{
		UniqueKey:          a.Key(),
		Symbol:             a.Symbol,
		ModelVersion:       a.ModelVersion,
		BestPredictionItem: string(a.Evaluation.BestLevel()),
		ContextLen:         a.ContextLen,
		HorizonLen:         a.HorizonLen,
		StockType:          a.StockType,
	}
	if a.IsPublic {
		rec.IsPublic = 1
	}

	train, test, val := domain.RangeOf(a.Split.Train), domain.RangeOf(a.Split.Test), domain.RangeOf(a.Split.Validation)
	rec.TrainStartDate, rec.TrainEndDate = formatDate(train.Start), formatDate(train.End)
	rec.TestStartDate, rec.TestEndDate = formatDate(test.Start), formatDate(test.End)
	rec.ValStartDate, rec.ValEndDate = formatDate(val.Start), formatDate(val.End)

	metrics := map[string]interface{}{}
	if sel := a.Evaluation.Selection; sel != nil {
		putFinite(metrics, "mse", sel.MeanMSE)
		putFinite(metrics, "mae", sel.MeanMAE)
		putFinite(metrics, "return_diff", sel.MeanReturnDiff)
		putFinite(metrics, "return_diff_variance", sel.ReturnDiffVariance)
		putFinite(metrics, "composite_score", sel.Composite)
		metrics["chunks"] = sel.Chunks
	}
	v := a.Evaluation.Validation
	putFinite(metrics, "validation_mse", v.MSE)
	putFinite(metrics, "validation_mae", v.MAE)
	putFinite(metrics, "validation_return_diff", v.ReturnDiff)
	metrics["validation_chunks"] = v.Chunks
	metrics["successful_validation_chunks"] = v.SuccessfulChunks
	rec.BestMetrics = metrics

	return rec
}

// ValidationChunkRecords builds one record per successfully forecast validation
// chunk, in ascending chunk order. Failed chunks are not stored.
func (a RunArtifacts) ValidationChunkRecords() []store.ValidationChunkRecord {
	key := a.Key()
	out := make([]store.ValidationChunkRecord, 0, len(a.Evaluation.ValidationResults))
	for _, r := range a.Evaluation.ValidationResults {
		if r.Failed {
			continue
		}
		preds := make(map[string][]float64, len(r.Forecast))
		for level, seq := range r.Forecast {
			preds[string(level)] = append([]float64(nil), seq...)
		}
		dates := make([]string, len(r.Dates))
		for i, d := range r.Dates {
			dates[i] = formatDate(d)
		}
		out = append(out, store.ValidationChunkRecord{
			UniqueKey:   key,
			ChunkIndex:  r.Index,
			UserID:      a.Owner,
			Symbol:      a.Symbol,
			StartDate:   formatDate(r.Start),
			EndDate:     formatDate(r.End),
			Predictions: preds,
			Actual:      append([]float64(nil), r.Actual...),
			Dates:       dates,
		})
	}
	return out
}

// BacktestRecord flattens the simulation result into the stored summary
func (a RunArtifacts) BacktestRecord() store.BacktestRecord {
	res := a.Backtest
	p := res.Params
	val := domain.RangeOf(a.Split.Validation)

	rec := store.BacktestRecord{
		UniqueKey:                              a.Key(),
		Symbol:                                 a.Symbol,
		ModelVersion:                           a.ModelVersion,
		ContextLen:                             a.ContextLen,
		HorizonLen:                             a.HorizonLen,
		UserID:                                 a.Owner,
		UsedQuantile:                           string(a.Evaluation.BestLevel()),
		BuyThresholdPct:                        p.BuyThresholdPct,
		SellThresholdPct:                       p.SellThresholdPct,
		TradeFeeRate:                           p.TradeFeeRate,
		TotalFeesPaid:                          res.TotalFees,
		ActualTotalReturnPct:                   finiteOrZero(res.Net.TotalPct),
		BenchmarkReturnPct:                     finiteOrZero(res.Benchmark.TotalPct),
		BenchmarkAnnualizedReturnPct:           finiteOrZero(res.Benchmark.AnnualizedPct),
		PeriodDays:                             res.PeriodDays,
		ValidationStartDate:                    formatDate(val.Start),
		ValidationEndDate:                      formatDate(val.End),
		ValidationBenchmarkReturnPct:           finiteOrZero(a.ValidationBenchmark.TotalPct),
		ValidationBenchmarkAnnualizedReturnPct: finiteOrZero(a.ValidationBenchmark.AnnualizedPct),
		ValidationPeriodDays:                   a.ValidationPeriodDays,
		PositionControl: map[string]interface{}{
			"mode":                    string(p.Mode),
			"initial_cash":            p.InitialCash,
			"max_position_pct":        p.MaxPositionPct,
			"min_position_pct":        p.MinPositionPct,
			"slope_position_per_pct":  p.SlopePositionPerPct,
			"rebalance_tolerance_pct": p.RebalanceTolerancePct,
			"take_profit_threshold":   p.TakeProfitThresholdPct,
			"take_profit_sell_frac":   p.TakeProfitSellFrac,
		},
		PredictedChangeStats: map[string]interface{}{
			"count": res.PredictedStats.Count,
			"min":   res.PredictedStats.Min,
			"max":   res.PredictedStats.Max,
			"mean":  res.PredictedStats.Mean,
			"std":   res.PredictedStats.Std,
		},
	}

	signals := make([]map[string]interface{}, 0, len(res.Signals))
	for _, s := range res.Signals {
		signals = append(signals, map[string]interface{}{
			"chunk_index":          s.ChunkIndex,
			"start_price":          s.StartPrice,
			"predicted_change_pct": s.PredictedChangePct,
			"target_weight":        s.TargetWeight,
			"action":               s.Action,
		})
	}
	rec.PerChunkSignals = map[string]interface{}{"signals": signals, "skipped_chunks": res.SkippedChunks}

	for _, e := range res.Equity {
		rec.EquityCurveValues = append(rec.EquityCurveValues, e.Net)
		rec.EquityCurvePct = append(rec.EquityCurvePct, e.NetPct)
		rec.EquityCurvePctGross = append(rec.EquityCurvePctGross, e.GrossPct)
		rec.CurveDates = append(rec.CurveDates, formatDate(e.Date))
		rec.ActualEndPrices = append(rec.ActualEndPrices, e.Price)
	}
	for _, t := range res.Trades {
		rec.Trades = append(rec.Trades, map[string]interface{}{
			"date":         formatDate(t.Date),
			"action":       t.Action,
			"price":        t.Price,
			"size":         t.Size,
			"notional":     t.Notional,
			"fee":          t.Fee,
			"cash_after":   t.CashAfter,
			"shares_after": t.SharesAfter,
			"chunk_index":  t.ChunkIndex,
			"reason":       t.Reason,
		})
	}
	return rec
}

// StrategyParamsRecord stores the parameters the backtest ran with
func (a RunArtifacts) StrategyParamsRecord() store.StrategyParamsRecord {
	p := a.Backtest.Params
	rec := store.StrategyParamsRecord{
		UniqueKey:              a.Key(),
		UserID:                 a.Owner,
		BuyThresholdPct:        p.BuyThresholdPct,
		SellThresholdPct:       p.SellThresholdPct,
		InitialCash:            p.InitialCash,
		EnableRebalance:        p.Mode == backtest.ModeRebalance,
		MaxPositionPct:         p.MaxPositionPct,
		MinPositionPct:         p.MinPositionPct,
		SlopePositionPerPct:    p.SlopePositionPerPct,
		RebalanceTolerancePct:  p.RebalanceTolerancePct,
		TradeFeeRate:           p.TradeFeeRate,
		TakeProfitThresholdPct: p.TakeProfitThresholdPct,
		TakeProfitSellFrac:     p.TakeProfitSellFrac,
	}
	if a.StrategyName != "" {
		name := a.StrategyName
		rec.Name = &name
	}
	return rec
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

// putFinite skips failure sentinels, which JSON cannot carry
func putFinite(m map[string]interface{}, key string, v float64) {
	if !math.IsInf(v, 0) && !math.IsNaN(v) {
		m[key] = v
	}
}

func finiteOrZero(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}
