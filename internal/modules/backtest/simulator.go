package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Trade actions
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
)

// ReasonTakeProfit marks sells triggered by the take-profit rule
const ReasonTakeProfit = "take_profit"

// Input is one chunk as seen by the simulator. Forecast holds the selected
// quantile's predicted sequence, produced from data strictly before the chunk.
type Input struct {
	Index    int         `json:"chunk_index"`
	Dates    []time.Time `json:"dates"`
	Actual   []float64   `json:"actual_values"`
	Forecast []float64   `json:"forecast,omitempty"`
}

// Trade is one ledger entry
type Trade struct {
	Date        time.Time `json:"date"`
	Action      string    `json:"action"`
	Price       float64   `json:"price"`
	Size        float64   `json:"size"`
	Notional    float64   `json:"notional"`
	Fee         float64   `json:"fee"`
	CashAfter   float64   `json:"cash_after"`
	SharesAfter float64   `json:"shares_after"`
	ChunkIndex  int       `json:"chunk_index"`
	Reason      string    `json:"reason"`
}

// EquityPoint is the portfolio value at the end of one chunk
type EquityPoint struct {
	Date           time.Time `json:"date"`
	ChunkIndex     int       `json:"chunk_index"`
	Price          float64   `json:"price"`
	Cash           float64   `json:"cash"`
	Shares         float64   `json:"shares"`
	Net            float64   `json:"net"`
	Gross          float64   `json:"gross"`
	CumulativeFees float64   `json:"cumulative_fees"`
	NetPct         float64   `json:"net_pct"`
	GrossPct       float64   `json:"gross_pct"`
	BenchmarkPct   float64   `json:"benchmark_pct"`
}

// Signal is the decision taken for one chunk
type Signal struct {
	ChunkIndex         int     `json:"chunk_index"`
	StartPrice         float64 `json:"start_price"`
	PredictedChangePct float64 `json:"predicted_change_pct"`
	TargetWeight       float64 `json:"target_weight"`
	Action             string  `json:"action"` // buy, sell, hold, skip, no_forecast
}

// Returns groups total and annualized returns, in percent
type Returns struct {
	TotalPct      float64 `json:"total_return_pct"`
	AnnualizedPct float64 `json:"annualized_return_pct"`
}

// ChangeStats summarises the predicted changes that drove decisions
type ChangeStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
}

// Result is the outcome of one simulation
type Result struct {
	Params          Params        `json:"params"`
	FinalCash       float64       `json:"final_cash"`
	FinalShares     float64       `json:"final_shares"`
	FinalNet        float64       `json:"final_value"`
	FinalGross      float64       `json:"final_value_gross"`
	TotalFees       float64       `json:"total_fees_paid"`
	Net             Returns       `json:"net"`
	Gross           Returns       `json:"gross"`
	Benchmark       Returns       `json:"benchmark"`
	ExcessReturnPct float64       `json:"excess_return_pct"`
	PeriodDays      int           `json:"period_days"`
	StartDate       time.Time     `json:"start_date"`
	EndDate         time.Time     `json:"end_date"`
	Trades          []Trade       `json:"trades"`
	Equity          []EquityPoint `json:"equity_curve"`
	Signals         []Signal      `json:"per_chunk_signals"`
	PredictedStats  ChangeStats   `json:"predicted_change_stats"`
	SkippedChunks   int           `json:"skipped_chunks"`
}

// state is the mutable cash/shares book. It is copied per chunk and committed whole.
type state struct {
	cash   float64
	shares float64
	fees   float64
	trades []Trade
}

func (s state) equity(price float64) float64 {
	return s.cash + s.shares*price
}

// Simulator replays Params over a stream of chunk inputs
type Simulator struct {
	params Params
	log    zerolog.Logger
}

// NewSimulator validates params and returns a simulator
func NewSimulator(params Params, log zerolog.Logger) (*Simulator, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backtest params: %w", err)
	}
	return &Simulator{params: params, log: log.With().Str("component", "backtest").Logger()}, nil
}

// Run processes chunks in ascending index order. It stops between chunks when
// ctx is cancelled and never leaves a chunk half applied.
func (s *Simulator) Run(ctx context.Context, chunks []Input) (*Result, error) {
	p := s.params
	st := state{cash: p.InitialCash}
	res := &Result{Params: p}

	var firstPrice, lastPrice float64
	var firstDate, lastDate time.Time
	var seen bool
	var predicted []float64
	prevIndex := -1

	for _, in := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if in.Index < prevIndex {
			return nil, fmt.Errorf("chunk %d out of order after %d", in.Index, prevIndex)
		}
		prevIndex = in.Index

		if len(in.Actual) == 0 || !validPrice(in.Actual[0]) {
			res.SkippedChunks++
			res.Signals = append(res.Signals, Signal{ChunkIndex: in.Index, Action: "skip"})
			continue
		}
		start := in.Actual[0]
		endIdx, endPrice := lastValid(in.Actual)

		if !seen {
			seen = true
			firstPrice = start
			firstDate = dateAt(in.Dates, 0)
		}
		lastPrice = endPrice
		lastDate = dateAt(in.Dates, endIdx)

		next := st
		next.trades = append([]Trade(nil), st.trades...)
		date := dateAt(in.Dates, 0)
		before := len(next.trades)

		if p.TakeProfitEnabled() && next.shares > 0 {
			gain := next.equity(start)/p.InitialCash - 1
			if gain >= p.TakeProfitThresholdPct/100 {
				next.sell(next.shares*p.TakeProfitSellFrac, start, p.TradeFeeRate, date, in.Index, ReasonTakeProfit)
			}
		}

		sig := Signal{ChunkIndex: in.Index, StartPrice: start, Action: "hold"}
		if n := len(in.Forecast); n > 0 && validPrice(in.Forecast[n-1]) {
			pred := (in.Forecast[n-1]/start - 1) * 100
			sig.PredictedChangePct = pred
			predicted = append(predicted, pred)

			switch p.Mode {
			case ModeBinary:
				s.decideBinary(&next, pred, start, date, in.Index)
			case ModeRebalance:
				sig.TargetWeight = s.decideRebalance(&next, pred, start, date, in.Index)
			}
		} else {
			sig.Action = "no_forecast"
		}
		if len(next.trades) > before {
			sig.Action = next.trades[len(next.trades)-1].Action
		}

		// commit the chunk
		st = next
		res.Signals = append(res.Signals, sig)

		net := st.equity(endPrice)
		res.Equity = append(res.Equity, EquityPoint{
			Date:           lastDate,
			ChunkIndex:     in.Index,
			Price:          endPrice,
			Cash:           st.cash,
			Shares:         st.shares,
			Net:            net,
			Gross:          net + st.fees,
			CumulativeFees: st.fees,
			NetPct:         (net/p.InitialCash - 1) * 100,
			GrossPct:       ((net+st.fees)/p.InitialCash - 1) * 100,
			BenchmarkPct:   (endPrice/firstPrice - 1) * 100,
		})
	}

	res.Trades = st.trades
	res.FinalCash = st.cash
	res.FinalShares = st.shares
	res.TotalFees = st.fees
	res.FinalNet = p.InitialCash
	if lastPrice > 0 {
		res.FinalNet = st.equity(lastPrice)
	}
	res.FinalGross = res.FinalNet + st.fees
	res.StartDate = firstDate
	res.EndDate = lastDate
	res.PeriodDays = periodDays(firstDate, lastDate)

	res.Net = returnsOf(p.InitialCash, res.FinalNet, res.PeriodDays)
	res.Gross = returnsOf(p.InitialCash, res.FinalGross, res.PeriodDays)
	if firstPrice > 0 {
		res.Benchmark = returnsOf(firstPrice, lastPrice, res.PeriodDays)
	}
	res.ExcessReturnPct = res.Net.TotalPct - res.Benchmark.TotalPct
	res.PredictedStats = changeStats(predicted)

	s.log.Info().
		Int("chunks", len(chunks)).
		Int("trades", len(res.Trades)).
		Float64("final_value", res.FinalNet).
		Float64("total_return_pct", res.Net.TotalPct).
		Float64("benchmark_return_pct", res.Benchmark.TotalPct).
		Float64("fees", res.TotalFees).
		Msg("Backtest completed")

	return res, nil
}

func (s *Simulator) decideBinary(st *state, pred, price float64, date time.Time, chunk int) {
	p := s.params
	switch {
	case pred >= p.BuyThresholdPct && st.shares == 0:
		st.buy(st.cash/(price*(1+p.TradeFeeRate)), price, p.TradeFeeRate, date, chunk, fmt.Sprintf("pred_pct>=%g", p.BuyThresholdPct))
	case pred <= p.SellThresholdPct && st.shares > 0:
		st.sell(st.shares, price, p.TradeFeeRate, date, chunk, fmt.Sprintf("pred_pct<=%g", p.SellThresholdPct))
	}
}

// decideRebalance moves the position toward the target weight and returns that target
func (s *Simulator) decideRebalance(st *state, pred, price float64, date time.Time, chunk int) float64 {
	p := s.params
	equity := st.equity(price)
	if equity <= 0 {
		return 0
	}
	current := st.shares * price / equity
	target := p.TargetWeight(pred, current)
	if math.Abs(target-current) <= p.RebalanceTolerancePct {
		return target
	}

	delta := (target - current) * equity / price
	reason := fmt.Sprintf("rebalance %.2f->%.2f", current, target)
	if delta > 0 {
		affordable := st.cash / (price * (1 + p.TradeFeeRate))
		st.buy(math.Min(delta, affordable), price, p.TradeFeeRate, date, chunk, reason)
	} else {
		st.sell(math.Min(-delta, st.shares), price, p.TradeFeeRate, date, chunk, reason)
	}
	return target
}

func (st *state) buy(size, price, feeRate float64, date time.Time, chunk int, reason string) {
	if !(size > 0) {
		return
	}
	notional := size * price
	fee := notional * feeRate
	st.cash -= notional + fee
	if st.cash < 0 && st.cash > -1e-9 {
		st.cash = 0
	}
	st.shares += size
	st.fees += fee
	st.trades = append(st.trades, Trade{
		Date: date, Action: ActionBuy, Price: price, Size: size, Notional: notional, Fee: fee,
		CashAfter: st.cash, SharesAfter: st.shares, ChunkIndex: chunk, Reason: reason,
	})
}

func (st *state) sell(size, price, feeRate float64, date time.Time, chunk int, reason string) {
	if !(size > 0) {
		return
	}
	notional := size * price
	fee := notional * feeRate
	st.cash += notional - fee
	st.shares -= size
	if st.shares < 1e-12 {
		st.shares = 0
	}
	st.fees += fee
	st.trades = append(st.trades, Trade{
		Date: date, Action: ActionSell, Price: price, Size: size, Notional: notional, Fee: fee,
		CashAfter: st.cash, SharesAfter: st.shares, ChunkIndex: chunk, Reason: reason,
	})
}

// Annualize converts a start/end value pair over days into a compounded yearly return, in percent
func Annualize(start, end float64, days int) float64 {
	if start <= 0 || end <= 0 || days <= 0 {
		return 0
	}
	return (math.Pow(end/start, 365.0/float64(days)) - 1) * 100
}

func returnsOf(start, end float64, days int) Returns {
	if start <= 0 {
		return Returns{}
	}
	return Returns{
		TotalPct:      (end/start - 1) * 100,
		AnnualizedPct: Annualize(start, end, days),
	}
}

// BuyAndHold is the benchmark of holding one unit from the first to the last usable
// price of a series. It also returns the period length in days.
func BuyAndHold(dates []time.Time, prices []float64) (Returns, int) {
	first, last := -1, -1
	for i, p := range prices {
		if !validPrice(p) {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		return Returns{}, 0
	}
	days := periodDays(dateAt(dates, first), dateAt(dates, last))
	return returnsOf(prices[first], prices[last], days), days
}

func periodDays(from, to time.Time) int {
	if from.IsZero() || to.IsZero() {
		return 1
	}
	days := int(to.Sub(from).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

func changeStats(xs []float64) ChangeStats {
	if len(xs) == 0 {
		return ChangeStats{}
	}
	mean, std := stat.PopMeanStdDev(xs, nil)
	return ChangeStats{
		Count: len(xs),
		Min:   floats.Min(xs),
		Max:   floats.Max(xs),
		Mean:  mean,
		Std:   std,
	}
}

func validPrice(x float64) bool {
	return x > 0 && !math.IsInf(x, 0) && !math.IsNaN(x)
}

// lastValid returns the index and value of the last usable price
func lastValid(xs []float64) (int, float64) {
	for i := len(xs) - 1; i >= 0; i-- {
		if validPrice(xs[i]) {
			return i, xs[i]
		}
	}
	return 0, xs[0]
}

func dateAt(dates []time.Time, i int) time.Time {
	if i < len(dates) {
		return dates[i]
	}
	return time.Time{}
}
