// Package dataprep turns raw price history into a validated, chronologically
// ordered series and splits it into train/test/validation regions.
package dataprep

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/forecastbt/internal/domain"
)

// Split fractions of the usable history
const (
	TrainFraction = 0.7
	TestFraction  = 0.2
)

// Options controls preparation
type Options struct {
	HorizonLen int
	// MinHistoryChunks is the minimum usable length, in horizons, after trimming
	MinHistoryChunks int
	// Indicators adds derived fields (SMA/RSI) to each record
	Indicators bool
}

// Normalize sorts records by date, drops rows without a usable close and rejects duplicate timestamps
func Normalize(records []domain.Record) ([]domain.Record, error) {
	out := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if r.Date.IsZero() {
			continue
		}
		if math.IsNaN(r.Close) || math.IsInf(r.Close, 0) {
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, &domain.DataPreparationError{Reason: "no records with a date and a finite close"}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	for i := 1; i < len(out); i++ {
		if out[i].Date.Equal(out[i-1].Date) {
			return nil, &domain.DataPreparationError{
				Reason: fmt.Sprintf("duplicate timestamp %s", out[i].Date.Format("2006-01-02")),
			}
		}
	}
	return out, nil
}

// Sizes computes region lengths for n usable records. Each region is floored to a
// multiple of h; the remainder is dropped from the oldest end.
func Sizes(n, h int) (train, test, validation, trimmed int) {
	if h <= 0 || n <= 0 {
		return 0, 0, 0, n
	}
	floor := func(x int) int { return (x / h) * h }
	initialTrain := int(float64(n) * TrainFraction)
	initialTest := int(float64(n) * TestFraction)
	initialVal := n - initialTrain - initialTest

	train = floor(initialTrain)
	test = floor(initialTest)
	validation = floor(initialVal)
	trimmed = n - train - test - validation
	return train, test, validation, trimmed
}

// Prepare validates records and splits them per opts
func Prepare(records []domain.Record, opts Options) (domain.Split, error) {
	h := opts.HorizonLen
	if h <= 0 {
		return domain.Split{}, &domain.DataPreparationError{Reason: fmt.Sprintf("horizon_len must be positive, got %d", h)}
	}

	series, err := Normalize(records)
	if err != nil {
		return domain.Split{}, err
	}
	if len(series) < 2*h {
		return domain.Split{}, &domain.DataPreparationError{
			Reason: "history shorter than two horizons",
			Err:    &domain.InsufficientDataError{What: "history", Need: 2 * h, Have: len(series)},
		}
	}

	if opts.Indicators {
		AddIndicators(series)
	}

	train, test, val, trimmed := Sizes(len(series), h)
	usable := train + test + val
	if minimum := opts.MinHistoryChunks * h; usable < minimum {
		return domain.Split{}, &domain.DataPreparationError{
			Reason: "usable history below minimum",
			Err:    &domain.InsufficientDataError{What: "usable history", Need: minimum, Have: usable},
		}
	}
	for _, region := range []struct {
		name string
		n    int
	}{{"train", train}, {"test", test}, {"validation", val}} {
		if region.n < h {
			return domain.Split{}, &domain.DataPreparationError{
				Reason: region.name + " region shorter than one horizon",
				Err:    &domain.InsufficientDataError{What: region.name, Need: h, Have: region.n},
			}
		}
	}

	s := series[trimmed:]
	return domain.Split{
		Train:      s[:train],
		Test:       s[train : train+test],
		Validation: s[train+test:],
		HorizonLen: h,
		Trimmed:    trimmed,
	}, nil
}
