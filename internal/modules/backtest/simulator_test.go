package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func days(start, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = day0.AddDate(0, 0, start+i)
	}
	return out
}

func newSim(t *testing.T, p Params) *Simulator {
	t.Helper()
	sim, err := NewSimulator(p, zerolog.Nop())
	require.NoError(t, err)
	return sim
}

func TestSingleChunkBuy(t *testing.T) {
	p := DefaultParams()
	p.BuyThresholdPct = 10
	p.TakeProfitThresholdPct = 0

	res, err := newSim(t, p).Run(context.Background(), []Input{{
		Index:    0,
		Dates:    days(0, 3),
		Actual:   []float64{10, 10.5, 11},
		Forecast: []float64{10.5, 11, 11.5},
	}})
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, ActionBuy, tr.Action)
	assert.Equal(t, 10.0, tr.Price)
	assert.InDelta(t, 100000/(10*(1+p.TradeFeeRate)), tr.Size, 1e-6)
	assert.Equal(t, "pred_pct>=10", tr.Reason)
	assert.InDelta(t, 0, res.FinalCash, 1e-6)
	assert.InDelta(t, tr.Notional*p.TradeFeeRate, res.TotalFees, 1e-9)

	require.Len(t, res.Signals, 1)
	assert.InDelta(t, 15.0, res.Signals[0].PredictedChangePct, 1e-9)
}

func TestBinaryBuyThenSell(t *testing.T) {
	p := DefaultParams()
	p.TakeProfitThresholdPct = 0

	res, err := newSim(t, p).Run(context.Background(), []Input{
		{Index: 0, Dates: days(0, 2), Actual: []float64{100, 101}, Forecast: []float64{103, 105}},
		{Index: 1, Dates: days(2, 2), Actual: []float64{102, 103}, Forecast: []float64{101, 100}},
	})
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, ActionBuy, res.Trades[0].Action)
	assert.Equal(t, ActionSell, res.Trades[1].Action)
	assert.Equal(t, "pred_pct<=-1", res.Trades[1].Reason)
	assert.Zero(t, res.FinalShares)
	assert.Equal(t, "buy", res.Signals[0].Action)
	assert.Equal(t, "sell", res.Signals[1].Action)
}

func TestFeeIdentity(t *testing.T) {
	p := DefaultParams()
	p.TradeFeeRate = 0.01

	inputs := []Input{
		{Index: 0, Dates: days(0, 2), Actual: []float64{100, 102}, Forecast: []float64{104}},
		{Index: 1, Dates: days(2, 2), Actual: []float64{103, 99}, Forecast: []float64{90}},
		{Index: 2, Dates: days(4, 2), Actual: []float64{98, 101}, Forecast: []float64{105}},
		{Index: 3, Dates: days(6, 2), Actual: []float64{102, 104}, Forecast: []float64{102}},
	}
	res, err := newSim(t, p).Run(context.Background(), inputs)
	require.NoError(t, err)
	require.Len(t, res.Equity, len(inputs))

	for _, pt := range res.Equity {
		assert.InDelta(t, pt.Net+pt.CumulativeFees, pt.Gross, 1e-9, "chunk %d", pt.ChunkIndex)
		assert.InDelta(t, pt.Cash+pt.Shares*pt.Price, pt.Net, 1e-9)
	}
	assert.Greater(t, res.TotalFees, 0.0)
	assert.InDelta(t, res.FinalNet+res.TotalFees, res.FinalGross, 1e-9)
}

func TestEquityUsesLastValidActual(t *testing.T) {
	p := DefaultParams()
	p.TradeFeeRate = 0
	p.TakeProfitThresholdPct = 0

	res, err := newSim(t, p).Run(context.Background(), []Input{
		{Index: 0, Dates: days(0, 3), Actual: []float64{50, 60, 0}, Forecast: []float64{60}},
	})
	require.NoError(t, err)
	require.Len(t, res.Equity, 1)
	assert.Equal(t, 60.0, res.Equity[0].Price)
	assert.Equal(t, days(1, 1)[0], res.Equity[0].Date)
	assert.InDelta(t, 120000, res.FinalNet, 1e-6)
}

func TestTakeProfitRunsBeforeSignal(t *testing.T) {
	p := DefaultParams()
	p.TradeFeeRate = 0
	p.TakeProfitThresholdPct = 15
	p.TakeProfitSellFrac = 0.5

	res, err := newSim(t, p).Run(context.Background(), []Input{
		{Index: 0, Dates: days(0, 2), Actual: []float64{100, 110}, Forecast: []float64{110}},
		// up 20% at the start of chunk 1; the forecast stays bullish
		{Index: 1, Dates: days(2, 2), Actual: []float64{120, 121}, Forecast: []float64{125}},
	})
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	tp := res.Trades[1]
	assert.Equal(t, ActionSell, tp.Action)
	assert.Equal(t, ReasonTakeProfit, tp.Reason)
	assert.InDelta(t, 500, tp.Size, 1e-9)
	assert.InDelta(t, 500, res.FinalShares, 1e-9)
	assert.InDelta(t, 60000, res.FinalCash, 1e-6)
	// still holding shares, so binary mode does not buy again
	assert.Equal(t, "sell", res.Signals[1].Action)
}

func TestRebalanceMovesTowardTarget(t *testing.T) {
	p := DefaultParams()
	p.Mode = ModeRebalance
	p.TradeFeeRate = 0
	p.TakeProfitThresholdPct = 0
	p.BuyThresholdPct = 1
	p.SellThresholdPct = -1
	p.MinPositionPct = 0.2
	p.MaxPositionPct = 0.8
	p.SlopePositionPerPct = 0.1

	res, err := newSim(t, p).Run(context.Background(), []Input{
		// +3% -> 0.2 + 0.1*2 = 0.4
		{Index: 0, Dates: days(0, 1), Actual: []float64{100}, Forecast: []float64{103}},
		// inside the band: keep current weight, no trade
		{Index: 1, Dates: days(1, 1), Actual: []float64{100}, Forecast: []float64{100.5}},
		// +20% -> clamped to 0.8
		{Index: 2, Dates: days(2, 1), Actual: []float64{100}, Forecast: []float64{120}},
		// -5% -> flat
		{Index: 3, Dates: days(3, 1), Actual: []float64{100}, Forecast: []float64{95}},
	})
	require.NoError(t, err)

	require.Len(t, res.Trades, 3)
	assert.InDelta(t, 400, res.Trades[0].Size, 1e-9)
	assert.InDelta(t, 0.4, res.Signals[0].TargetWeight, 1e-9)
	assert.Equal(t, "hold", res.Signals[1].Action)
	assert.InDelta(t, 400, res.Trades[1].Size, 1e-9)
	assert.InDelta(t, 0.8, res.Signals[2].TargetWeight, 1e-9)
	assert.Equal(t, ActionSell, res.Trades[2].Action)
	assert.Zero(t, res.FinalShares)
	assert.InDelta(t, 100000, res.FinalNet, 1e-6)
}

func TestRebalanceToleranceSuppressesSmallMoves(t *testing.T) {
	p := DefaultParams()
	p.Mode = ModeRebalance
	p.TakeProfitThresholdPct = 0
	p.BuyThresholdPct = 1
	p.MinPositionPct = 0.02
	p.SlopePositionPerPct = 0
	p.RebalanceTolerancePct = 0.05

	res, err := newSim(t, p).Run(context.Background(), []Input{
		{Index: 0, Dates: days(0, 1), Actual: []float64{100}, Forecast: []float64{110}},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
}

func TestSkipsUnusableChunks(t *testing.T) {
	p := DefaultParams()
	res, err := newSim(t, p).Run(context.Background(), []Input{
		{Index: 0, Dates: days(0, 2), Actual: []float64{0, 100}, Forecast: []float64{120}},
		{Index: 1, Dates: days(2, 2), Actual: []float64{100, 101}},
		{Index: 2, Dates: days(4, 2), Actual: []float64{101, 102}, Forecast: []float64{110}},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.SkippedChunks)
	require.Len(t, res.Signals, 3)
	assert.Equal(t, "skip", res.Signals[0].Action)
	assert.Equal(t, "no_forecast", res.Signals[1].Action)
	assert.Equal(t, "buy", res.Signals[2].Action)

	// the forecast-less chunk still records equity
	require.Len(t, res.Equity, 2)
	assert.Equal(t, 1, res.Equity[0].ChunkIndex)
	assert.InDelta(t, 100000, res.Equity[0].Net, 1e-9)
	assert.Equal(t, 1, res.PredictedStats.Count)
}

func TestBenchmarkAndAnnualization(t *testing.T) {
	p := DefaultParams()
	p.BuyThresholdPct = 50

	res, err := newSim(t, p).Run(context.Background(), []Input{
		{Index: 0, Dates: []time.Time{day0}, Actual: []float64{100}, Forecast: []float64{101}},
		{Index: 1, Dates: []time.Time{day0.AddDate(0, 0, 365)}, Actual: []float64{110}, Forecast: []float64{111}},
	})
	require.NoError(t, err)

	assert.Empty(t, res.Trades)
	assert.Equal(t, 365, res.PeriodDays)
	assert.InDelta(t, 10, res.Benchmark.TotalPct, 1e-9)
	assert.InDelta(t, 10, res.Benchmark.AnnualizedPct, 1e-9)
	assert.InDelta(t, 0, res.Net.TotalPct, 1e-9)
	assert.InDelta(t, -10, res.ExcessReturnPct, 1e-9)
}

func TestAnnualize(t *testing.T) {
	tests := []struct {
		name       string
		start, end float64
		days       int
		want       float64
	}{
		{"one year", 100, 110, 365, 10},
		{"two years", 100, 121, 730, 10},
		{"bad start", 0, 121, 730, 0},
		{"no days", 100, 121, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Annualize(tt.start, tt.end, tt.days), 1e-9)
		})
	}
}

func TestBuyAndHold(t *testing.T) {
	ret, n := BuyAndHold(days(0, 4), []float64{0, 100, 105, 110})
	assert.Equal(t, 2, n)
	assert.InDelta(t, 10, ret.TotalPct, 1e-9)

	ret, n = BuyAndHold(nil, []float64{0, -1})
	assert.Zero(t, n)
	assert.Zero(t, ret.TotalPct)
}

func TestBenchmarkSpansDatelessChunks(t *testing.T) {
	res, err := newSim(t, DefaultParams()).Run(context.Background(), []Input{
		{Index: 0, Actual: []float64{10, 11}},
		{Index: 1, Actual: []float64{20, 22}},
	})
	require.NoError(t, err)

	assert.InDelta(t, 120, res.Benchmark.TotalPct, 1e-9)
	require.Len(t, res.Equity, 2)
	assert.InDelta(t, 10, res.Equity[0].BenchmarkPct, 1e-9)
	assert.InDelta(t, 120, res.Equity[1].BenchmarkPct, 1e-9)
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newSim(t, DefaultParams()).Run(ctx, []Input{
		{Index: 0, Dates: days(0, 1), Actual: []float64{100}, Forecast: []float64{110}},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunRejectsOutOfOrderChunks(t *testing.T) {
	_, err := newSim(t, DefaultParams()).Run(context.Background(), []Input{
		{Index: 2, Actual: []float64{100}},
		{Index: 1, Actual: []float64{100}},
	})
	assert.Error(t, err)
}

func TestEmptyRun(t *testing.T) {
	res, err := newSim(t, DefaultParams()).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 100000.0, res.FinalNet)
	assert.Zero(t, res.Net.TotalPct)
	assert.Empty(t, res.Equity)
}
