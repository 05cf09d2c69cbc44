package walkforward

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/aristath/forecastbt/internal/domain"
)

// trendSeries is a rising series with a small oscillation
func trendSeries(n int) []domain.Record {
	d0 := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Record, n)
	for i := range out {
		price := 100 + float64(i)*0.8 + 2*math.Sin(float64(i)/3)
		out[i] = domain.Record{Date: d0.AddDate(0, 0, i), Close: price}
	}
	return out
}

func splitOf(records []domain.Record, train, test int) domain.Split {
	return domain.Split{
		Train:      records[:train],
		Test:       records[train : train+test],
		Validation: records[train+test:],
	}
}

// oracle returns the true continuation for tsf-0.5 and skewed paths elsewhere
type oracle struct {
	series []float64

	mu      sync.Mutex
	windows [][]float64
	failOn  map[int]bool // call index -> fail
	calls   int
}

func newOracle(records []domain.Record) *oracle {
	return &oracle{series: domain.Closes(records), failOn: map[int]bool{}}
}

func (o *oracle) Forecast(_ context.Context, history []float64, horizonLen, _ int) (domain.QuantileForecast, error) {
	o.mu.Lock()
	call := o.calls
	o.calls++
	o.windows = append(o.windows, append([]float64(nil), history...))
	fail := o.failOn[call]
	o.mu.Unlock()

	if fail {
		return nil, errors.New("model timeout")
	}

	start := len(history)
	truth := make([]float64, horizonLen)
	for i := range truth {
		idx := start + i
		if idx >= len(o.series) {
			idx = len(o.series) - 1
		}
		truth[i] = o.series[idx]
	}

	f := domain.QuantileForecast{}
	for _, level := range domain.EvaluatedLevels {
		if level == "tsf-0.5" {
			f[level] = truth
			continue
		}
		// deterministic per-level distortion that grows along the horizon and varies per call
		skew := (float64(level[len(level)-1]-'0') - 5) * 0.02
		wobble := 1 + 0.5*math.Sin(float64(call))
		seq := make([]float64, horizonLen)
		for i, v := range truth {
			seq[i] = v * (1 + skew*wobble*float64(i+1)/float64(horizonLen))
		}
		f[level] = seq
	}
	f[domain.PointEstimate] = truth
	return f, nil
}
