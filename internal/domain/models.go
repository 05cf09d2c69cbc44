// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"math"
	"time"
)

// Record is one observation of an instrument's price history
type Record struct {
	Date    time.Time          `json:"date"`
	Derived map[string]float64 `json:"derived,omitempty"`
	Open    float64            `json:"open"`
	High    float64            `json:"high"`
	Low     float64            `json:"low"`
	Close   float64            `json:"close"`
	Volume  float64            `json:"volume"`
}

// Closes extracts the close column of a record slice
func Closes(records []Record) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.Close
	}
	return out
}

// Dates extracts the timestamps of a record slice
func Dates(records []Record) []time.Time {
	out := make([]time.Time, len(records))
	for i, r := range records {
		out[i] = r.Date
	}
	return out
}

// Split holds the three contiguous regions of one instrument's history.
// Train precedes Test precedes Validation and each length is a multiple of the horizon.
type Split struct {
	Train      []Record `json:"train"`
	Test       []Record `json:"test"`
	Validation []Record `json:"validation"`
	HorizonLen int      `json:"horizon_len"`
	Trimmed    int      `json:"trimmed"` // records dropped from the oldest end
}

// Range describes the first and last date of a region
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// RangeOf returns the date range covered by records (zero value when empty)
func RangeOf(records []Record) Range {
	if len(records) == 0 {
		return Range{}
	}
	return Range{Start: records[0].Date, End: records[len(records)-1].Date}
}

// Chunk is a contiguous horizon-length window of a test or validation region
type Chunk struct {
	Records []Record `json:"records"`
	Index   int      `json:"index"`
}

// Actuals returns the chunk's close prices
func (c Chunk) Actuals() []float64 {
	return Closes(c.Records)
}

// Len returns the number of records in the chunk
func (c Chunk) Len() int {
	return len(c.Records)
}

// Start returns the first date of the chunk
func (c Chunk) Start() time.Time {
	if len(c.Records) == 0 {
		return time.Time{}
	}
	return c.Records[0].Date
}

// End returns the last date of the chunk
func (c Chunk) End() time.Time {
	if len(c.Records) == 0 {
		return time.Time{}
	}
	return c.Records[len(c.Records)-1].Date
}

// QuantileLevel names one column of a quantile forecast ("tsf-0.5", or "tsf" for the point estimate)
type QuantileLevel string

const (
	// PointEstimate is the model's mean forecast column
	PointEstimate QuantileLevel = "tsf"
	// NoValidQuantile is returned when no level could be scored
	NoValidQuantile QuantileLevel = ""
)

// EvaluatedLevels is the ordered set of quantile levels that take part in scoring and selection
var EvaluatedLevels = []QuantileLevel{
	"tsf-0.1", "tsf-0.2", "tsf-0.3", "tsf-0.4", "tsf-0.5",
	"tsf-0.6", "tsf-0.7", "tsf-0.8", "tsf-0.9",
}

// AllLevels is EvaluatedLevels plus the point estimate
var AllLevels = append([]QuantileLevel{PointEstimate}, EvaluatedLevels...)

// Level builds a level name from a probability such as 0.5
func Level(q float64) QuantileLevel {
	return QuantileLevel(fmt.Sprintf("tsf-%.1f", q))
}

// IsEvaluated reports whether the level takes part in selection
func (l QuantileLevel) IsEvaluated() bool {
	for _, lv := range EvaluatedLevels {
		if lv == l {
			return true
		}
	}
	return false
}

// QuantileForecast maps each quantile level to its predicted sequence
type QuantileForecast map[QuantileLevel][]float64

// Last returns the final predicted value of a level
func (f QuantileForecast) Last(level QuantileLevel) (float64, bool) {
	seq, ok := f[level]
	if !ok || len(seq) == 0 {
		return math.NaN(), false
	}
	return seq[len(seq)-1], true
}

// Levels returns the evaluated levels present in the forecast, in canonical order
func (f QuantileForecast) Levels() []QuantileLevel {
	out := make([]QuantileLevel, 0, len(EvaluatedLevels))
	for _, lv := range EvaluatedLevels {
		if _, ok := f[lv]; ok {
			out = append(out, lv)
		}
	}
	return out
}

// Clone returns a deep copy
func (f QuantileForecast) Clone() QuantileForecast {
	out := make(QuantileForecast, len(f))
	for k, v := range f {
		out[k] = append([]float64(nil), v...)
	}
	return out
}
