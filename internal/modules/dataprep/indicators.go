package dataprep

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/aristath/forecastbt/internal/domain"
)

// Derived field names
const (
	FieldSMA5  = "sma_5"
	FieldSMA20 = "sma_20"
	FieldRSI14 = "rsi_14"
)

// AddIndicators fills Derived with SMA(5), SMA(20) and RSI(14) of the close.
// Rows inside an indicator's lookback are left without that field.
func AddIndicators(records []domain.Record) {
	closes := domain.Closes(records)
	apply := func(name string, values []float64, lookback int) {
		for i := lookback; i < len(values) && i < len(records); i++ {
			v := values[i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			if records[i].Derived == nil {
				records[i].Derived = make(map[string]float64, 3)
			}
			records[i].Derived[name] = v
		}
	}

	if len(closes) >= 5 {
		apply(FieldSMA5, talib.Sma(closes, 5), 4)
	}
	if len(closes) >= 20 {
		apply(FieldSMA20, talib.Sma(closes, 20), 19)
	}
	if len(closes) > 14 {
		apply(FieldRSI14, talib.Rsi(closes, 14), 14)
	}
}
