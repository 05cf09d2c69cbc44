package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/aristath/forecastbt/internal/modules/backtest"
)

// DateLayout is the wire format for request dates
const DateLayout = "2006-01-02"

// Limits enforced on a run request
const (
	MaxHorizonLen = 256
	MaxContextLen = 2048
)

// RunRequest is every option accepted by one evaluation and backtest run.
// Nil strategy fields inherit from the named profile.
type RunRequest struct {
	Symbol       string `json:"symbol"`
	StockType    int    `json:"stock_type,omitempty"` // store convention: 1 stock, 2 ETF
	HorizonLen   int    `json:"horizon_len"`
	ContextLen   int    `json:"context_len"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
	ModelVersion string `json:"model_version,omitempty"`
	Owner        *int   `json:"user_id,omitempty"`
	Persist      bool   `json:"persist"`
	Profile      string `json:"profile,omitempty"`

	Mode                   *backtest.Mode `json:"mode,omitempty"`
	BuyThresholdPct        *float64       `json:"buy_threshold_pct,omitempty"`
	SellThresholdPct       *float64       `json:"sell_threshold_pct,omitempty"`
	InitialCash            *float64       `json:"initial_cash,omitempty"`
	TradeFeeRate           *float64       `json:"fee_rate,omitempty"`
	TakeProfitThresholdPct *float64       `json:"take_profit_threshold_pct,omitempty"`
	TakeProfitSellFrac     *float64       `json:"take_profit_sell_frac,omitempty"`
	MaxPositionPct         *float64       `json:"max_position_pct,omitempty"`
	MinPositionPct         *float64       `json:"min_position_pct,omitempty"`
	SlopePositionPerPct    *float64       `json:"slope_position_per_pct,omitempty"`
	RebalanceTolerancePct  *float64       `json:"rebalance_tolerance_pct,omitempty"`
}

// Normalize trims identifiers and fills defaults that do not depend on profiles
func (r *RunRequest) Normalize(defaultModelVersion string) {
	r.Symbol = strings.TrimSpace(r.Symbol)
	if r.StockType == 0 {
		r.StockType = 1
	}
	if r.ModelVersion == "" {
		r.ModelVersion = defaultModelVersion
	}
}

// Validate checks the request fields that do not depend on a profile
func (r *RunRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if r.HorizonLen <= 0 || r.HorizonLen > MaxHorizonLen {
		return fmt.Errorf("horizon_len must be in [1, %d], got %d", MaxHorizonLen, r.HorizonLen)
	}
	if r.ContextLen <= 0 || r.ContextLen > MaxContextLen {
		return fmt.Errorf("context_len must be in [1, %d], got %d", MaxContextLen, r.ContextLen)
	}
	start, end, err := r.DateRange()
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return fmt.Errorf("start_date %s must be before end_date %s", r.StartDate, r.EndDate)
	}
	return nil
}

// DateRange parses the optional date bounds (zero time when unset)
func (r *RunRequest) DateRange() (start, end time.Time, err error) {
	if r.StartDate != "" {
		if start, err = time.Parse(DateLayout, r.StartDate); err != nil {
			return start, end, fmt.Errorf("invalid start_date %q: %w", r.StartDate, err)
		}
	}
	if r.EndDate != "" {
		if end, err = time.Parse(DateLayout, r.EndDate); err != nil {
			return start, end, fmt.Errorf("invalid end_date %q: %w", r.EndDate, err)
		}
	}
	return start, end, nil
}

// Params resolves the backtest parameters: profile first, then request overrides
func (r *RunRequest) Params(profiles *Profiles) (backtest.Params, error) {
	params := backtest.DefaultParams()
	if profiles != nil {
		p, ok := profiles.Get(r.Profile)
		if !ok {
			return params, fmt.Errorf("unknown strategy profile %q", r.Profile)
		}
		params = p
	}

	if r.Mode != nil {
		params.Mode = *r.Mode
	}
	override(&params.BuyThresholdPct, r.BuyThresholdPct)
	override(&params.SellThresholdPct, r.SellThresholdPct)
	override(&params.InitialCash, r.InitialCash)
	override(&params.TradeFeeRate, r.TradeFeeRate)
	override(&params.TakeProfitThresholdPct, r.TakeProfitThresholdPct)
	override(&params.TakeProfitSellFrac, r.TakeProfitSellFrac)
	override(&params.MaxPositionPct, r.MaxPositionPct)
	override(&params.MinPositionPct, r.MinPositionPct)
	override(&params.SlopePositionPerPct, r.SlopePositionPerPct)
	override(&params.RebalanceTolerancePct, r.RebalanceTolerancePct)

	if err := params.Validate(); err != nil {
		return params, err
	}
	return params, nil
}

func override(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}
