package store

import (
	"encoding/json"
	"time"
)

// APIResponse is the envelope every store endpoint answers with
type APIResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// BestRecord is the selected quantile of one (symbol, horizon, context, model) key
type BestRecord struct {
	UniqueKey          string                 `json:"unique_key"`
	Symbol             string                 `json:"symbol"`
	ModelVersion       string                 `json:"timesfm_version"`
	BestPredictionItem string                 `json:"best_prediction_item"`
	BestMetrics        map[string]interface{} `json:"best_metrics"`
	IsPublic           int                    `json:"is_public"`
	TrainStartDate     string                 `json:"train_start_date"`
	TrainEndDate       string                 `json:"train_end_date"`
	TestStartDate      string                 `json:"test_start_date"`
	TestEndDate        string                 `json:"test_end_date"`
	ValStartDate       string                 `json:"val_start_date"`
	ValEndDate         string                 `json:"val_end_date"`
	ContextLen         int                    `json:"context_len"`
	HorizonLen         int                    `json:"horizon_len"`
	StockType          int                    `json:"stock_type"`
}

// ValidationChunkRecord is one validation chunk stored under a best record
type ValidationChunkRecord struct {
	UniqueKey   string               `json:"unique_key"`
	ChunkIndex  int                  `json:"chunk_index"`
	UserID      *int                 `json:"user_id,omitempty"`
	Symbol      string               `json:"symbol"`
	StartDate   string               `json:"start_date"`
	EndDate     string               `json:"end_date"`
	Predictions map[string][]float64 `json:"predictions"`
	Actual      []float64            `json:"actual_values"`
	Dates       []string             `json:"dates"`
}

// BacktestRecord is the summary of one backtest stored under a best record
type BacktestRecord struct {
	UniqueKey                              string                   `json:"unique_key"`
	Symbol                                 string                   `json:"symbol"`
	ModelVersion                           string                   `json:"timesfm_version"`
	ContextLen                             int                      `json:"context_len"`
	HorizonLen                             int                      `json:"horizon_len"`
	UserID                                 *int                     `json:"user_id,omitempty"`
	UsedQuantile                           string                   `json:"used_quantile"`
	BuyThresholdPct                        float64                  `json:"buy_threshold_pct"`
	SellThresholdPct                       float64                  `json:"sell_threshold_pct"`
	TradeFeeRate                           float64                  `json:"trade_fee_rate"`
	TotalFeesPaid                          float64                  `json:"total_fees_paid"`
	ActualTotalReturnPct                   float64                  `json:"actual_total_return_pct"`
	BenchmarkReturnPct                     float64                  `json:"benchmark_return_pct"`
	BenchmarkAnnualizedReturnPct           float64                  `json:"benchmark_annualized_return_pct"`
	PeriodDays                             int                      `json:"period_days"`
	ValidationStartDate                    string                   `json:"validation_start_date"`
	ValidationEndDate                      string                   `json:"validation_end_date"`
	ValidationBenchmarkReturnPct           float64                  `json:"validation_benchmark_return_pct"`
	ValidationBenchmarkAnnualizedReturnPct float64                  `json:"validation_benchmark_annualized_return_pct"`
	ValidationPeriodDays                   int                      `json:"validation_period_days"`
	PositionControl                        map[string]interface{}   `json:"position_control"`
	PredictedChangeStats                   map[string]interface{}   `json:"predicted_change_stats"`
	PerChunkSignals                        map[string]interface{}   `json:"per_chunk_signals"`
	EquityCurveValues                      []float64                `json:"equity_curve_values"`
	EquityCurvePct                         []float64                `json:"equity_curve_pct"`
	EquityCurvePctGross                    []float64                `json:"equity_curve_pct_gross"`
	CurveDates                             []string                 `json:"curve_dates"`
	ActualEndPrices                        []float64                `json:"actual_end_prices"`
	Trades                                 []map[string]interface{} `json:"trades"`
}

// StrategyParamsRecord is a named parameter set stored for reuse
type StrategyParamsRecord struct {
	UniqueKey              string  `json:"unique_key"`
	UserID                 *int    `json:"user_id,omitempty"`
	Name                   *string `json:"name,omitempty"`
	BuyThresholdPct        float64 `json:"buy_threshold_pct"`
	SellThresholdPct       float64 `json:"sell_threshold_pct"`
	InitialCash            float64 `json:"initial_cash"`
	EnableRebalance        bool    `json:"enable_rebalance"`
	MaxPositionPct         float64 `json:"max_position_pct"`
	MinPositionPct         float64 `json:"min_position_pct"`
	SlopePositionPerPct    float64 `json:"slope_position_per_pct"`
	RebalanceTolerancePct  float64 `json:"rebalance_tolerance_pct"`
	TradeFeeRate           float64 `json:"trade_fee_rate"`
	TakeProfitThresholdPct float64 `json:"take_profit_threshold_pct"`
	TakeProfitSellFrac     float64 `json:"take_profit_sell_frac"`
}

// StockBar is one daily bar as returned by the price endpoints
type StockBar struct {
	Datetime time.Time `json:"datetime"`
	Open     float64   `json:"open"`
	Close    float64   `json:"close"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Volume   float64   `json:"volume"`
	Symbol   string    `json:"symbol"`
	Type     int       `json:"type"`
}

// storedBest is the lookup shape: dates come back as timestamps and
// best_metrics may be a JSON object or a string holding one.
type storedBest struct {
	UniqueKey          string          `json:"UniqueKey"`
	Symbol             string          `json:"Symbol"`
	ModelVersion       string          `json:"TimesfmVersion"`
	BestPredictionItem string          `json:"BestPredictionItem"`
	BestMetrics        json.RawMessage `json:"BestMetrics"`
	IsPublic           int             `json:"IsPublic"`
	TrainStartDate     string          `json:"TrainStartDate"`
	TrainEndDate       string          `json:"TrainEndDate"`
	TestStartDate      string          `json:"TestStartDate"`
	TestEndDate        string          `json:"TestEndDate"`
	ValStartDate       string          `json:"ValStartDate"`
	ValEndDate         string          `json:"ValEndDate"`
	ContextLen         int             `json:"ContextLen"`
	HorizonLen         int             `json:"HorizonLen"`
}

func (s storedBest) record() BestRecord {
	return BestRecord{
		UniqueKey:          s.UniqueKey,
		Symbol:             s.Symbol,
		ModelVersion:       s.ModelVersion,
		BestPredictionItem: s.BestPredictionItem,
		BestMetrics:        decodeMetrics(s.BestMetrics),
		IsPublic:           s.IsPublic,
		TrainStartDate:     day(s.TrainStartDate),
		TrainEndDate:       day(s.TrainEndDate),
		TestStartDate:      day(s.TestStartDate),
		TestEndDate:        day(s.TestEndDate),
		ValStartDate:       day(s.ValStartDate),
		ValEndDate:         day(s.ValEndDate),
		ContextLen:         s.ContextLen,
		HorizonLen:         s.HorizonLen,
	}
}

func decodeMetrics(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]interface{}
	if json.Unmarshal(raw, &m) == nil {
		return m
	}
	var s string
	if json.Unmarshal(raw, &s) == nil && json.Unmarshal([]byte(s), &m) == nil {
		return m
	}
	return nil
}

// day trims a timestamp to its YYYY-MM-DD prefix
func day(ts string) string {
	if len(ts) >= 10 {
		return ts[:10]
	}
	return ts
}
