// Package backtest replays a cash/shares strategy over per-chunk forecasts of the selected quantile.
package backtest

import (
	"fmt"
	"math"
)

// Mode selects the position decision rule
type Mode string

const (
	// ModeBinary is all-in on a buy signal and all-out on a sell signal
	ModeBinary Mode = "binary"
	// ModeRebalance sizes the position proportionally to the predicted change
	ModeRebalance Mode = "rebalance"
)

// Params configures one simulation.
// Position weights and tolerance are fractions of equity; thresholds are percentages.
type Params struct {
	Mode                   Mode    `json:"mode" yaml:"mode"`
	InitialCash            float64 `json:"initial_cash" yaml:"initial_cash"`
	BuyThresholdPct        float64 `json:"buy_threshold_pct" yaml:"buy_threshold_pct"`
	SellThresholdPct       float64 `json:"sell_threshold_pct" yaml:"sell_threshold_pct"`
	TradeFeeRate           float64 `json:"trade_fee_rate" yaml:"trade_fee_rate"`
	TakeProfitThresholdPct float64 `json:"take_profit_threshold_pct" yaml:"take_profit_threshold_pct"`
	TakeProfitSellFrac     float64 `json:"take_profit_sell_frac" yaml:"take_profit_sell_frac"`
	MaxPositionPct         float64 `json:"max_position_pct" yaml:"max_position_pct"`
	MinPositionPct         float64 `json:"min_position_pct" yaml:"min_position_pct"`
	SlopePositionPerPct    float64 `json:"slope_position_per_pct" yaml:"slope_position_per_pct"`
	RebalanceTolerancePct  float64 `json:"rebalance_tolerance_pct" yaml:"rebalance_tolerance_pct"`
}

// DefaultParams mirrors the strategy defaults offered to users
func DefaultParams() Params {
	return Params{
		Mode:                   ModeBinary,
		InitialCash:            100000,
		BuyThresholdPct:        1.5,
		SellThresholdPct:       -1.0,
		TradeFeeRate:           0.001,
		TakeProfitThresholdPct: 15.0,
		TakeProfitSellFrac:     0.5,
		MaxPositionPct:         0.95,
		MinPositionPct:         0.1,
		SlopePositionPerPct:    0.2,
		RebalanceTolerancePct:  0.05,
	}
}

// TakeProfitEnabled reports whether the take-profit rule can fire
func (p Params) TakeProfitEnabled() bool {
	return p.TakeProfitThresholdPct > 0 && p.TakeProfitSellFrac > 0
}

// Validate checks the parameters before a simulation starts
func (p Params) Validate() error {
	if !(p.InitialCash > 0) || math.IsInf(p.InitialCash, 0) {
		return fmt.Errorf("initial_cash must be positive, got %v", p.InitialCash)
	}
	if p.SellThresholdPct > p.BuyThresholdPct {
		return fmt.Errorf("sell_threshold_pct (%v) must not exceed buy_threshold_pct (%v)", p.SellThresholdPct, p.BuyThresholdPct)
	}
	if p.TradeFeeRate < 0 || p.TradeFeeRate >= 1 {
		return fmt.Errorf("trade_fee_rate must be in [0, 1), got %v", p.TradeFeeRate)
	}
	if p.TakeProfitSellFrac < 0 || p.TakeProfitSellFrac > 1 {
		return fmt.Errorf("take_profit_sell_frac must be in [0, 1], got %v", p.TakeProfitSellFrac)
	}
	switch p.Mode {
	case ModeBinary:
	case ModeRebalance:
		if p.MinPositionPct < 0 || p.MaxPositionPct > 1 || p.MinPositionPct > p.MaxPositionPct {
			return fmt.Errorf("position bounds must satisfy 0 <= min (%v) <= max (%v) <= 1", p.MinPositionPct, p.MaxPositionPct)
		}
		if p.RebalanceTolerancePct < 0 {
			return fmt.Errorf("rebalance_tolerance_pct must not be negative, got %v", p.RebalanceTolerancePct)
		}
	default:
		return fmt.Errorf("unknown mode %q", p.Mode)
	}
	return nil
}

// TargetWeight is the rebalance-mode target position weight for a predicted change.
// Between the thresholds the current weight is kept.
func (p Params) TargetWeight(predictedPct, current float64) float64 {
	switch {
	case predictedPct <= p.SellThresholdPct:
		return 0
	case predictedPct < p.BuyThresholdPct:
		return current
	default:
		w := p.MinPositionPct + p.SlopePositionPerPct*(predictedPct-p.BuyThresholdPct)
		return math.Max(p.MinPositionPct, math.Min(p.MaxPositionPct, w))
	}
}
