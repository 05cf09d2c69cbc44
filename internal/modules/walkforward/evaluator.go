// Package walkforward drives the expanding-window forecast loop over the test and
// validation regions, selects one quantile for the whole test region and checks it
// out of sample.
package walkforward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aristath/forecastbt/internal/domain"
	"github.com/aristath/forecastbt/internal/modules/chunking"
	"github.com/aristath/forecastbt/internal/modules/scorer"
	"github.com/aristath/forecastbt/internal/progress"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Forecaster produces a quantile forecast for the horizonLen steps following history.
// Implementations must be deterministic for identical inputs within a run.
type Forecaster interface {
	Forecast(ctx context.Context, history []float64, horizonLen, contextLen int) (domain.QuantileForecast, error)
}

// Options configures one evaluation run
type Options struct {
	HorizonLen       int
	ContextLen       int
	TestPolicy       chunking.ChunkPolicy
	ValidationPolicy chunking.ChunkPolicy
}

// ChunkResult is the outcome of forecasting and scoring one chunk
type ChunkResult struct {
	Index    int                     `json:"chunk_index"`
	Start    time.Time               `json:"start_date"`
	End      time.Time               `json:"end_date"`
	Dates    []time.Time             `json:"dates"`
	Actual   []float64               `json:"actual_values"`
	Forecast domain.QuantileForecast `json:"predictions,omitempty"`
	Anchor   float64                 `json:"anchor_price"`
	Window   int                     `json:"window_len"` // history values handed to the forecaster
	Score    scorer.Result           `json:"score"`
	Failed   bool                    `json:"failed"`
	Error    string                  `json:"error,omitempty"`
	MSE      float64                 `json:"-"`
	MAE      float64                 `json:"-"`
}

// MarshalJSON encodes the summary metrics as null when they hold the failure sentinel
func (r ChunkResult) MarshalJSON() ([]byte, error) {
	type plain ChunkResult
	return json.Marshal(struct {
		plain
		MSE *float64 `json:"mse"`
		MAE *float64 `json:"mae"`
	}{plain: plain(r), MSE: finite(r.MSE), MAE: finite(r.MAE)})
}

// ValidationMetrics summarise the fixed best level on the validation region
type ValidationMetrics struct {
	Level            domain.QuantileLevel `json:"best_prediction_item"`
	MSE              float64              `json:"validation_mse"`
	MAE              float64              `json:"validation_mae"`
	ReturnDiff       float64              `json:"validation_return_diff"`
	Chunks           int                  `json:"validation_chunks"`
	SuccessfulChunks int                  `json:"successful_validation_chunks"`
}

// MarshalJSON encodes metrics of an empty validation as null
func (v ValidationMetrics) MarshalJSON() ([]byte, error) {
	type plain ValidationMetrics
	return json.Marshal(struct {
		plain
		MSE        *float64 `json:"validation_mse"`
		MAE        *float64 `json:"validation_mae"`
		ReturnDiff *float64 `json:"validation_return_diff"`
	}{plain: plain(v), MSE: finite(v.MSE), MAE: finite(v.MAE), ReturnDiff: finite(v.ReturnDiff)})
}

// Report is everything one evaluation run produced
type Report struct {
	State             State             `json:"state"`
	Transitions       []Transition      `json:"transitions"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	TestResults       []ChunkResult     `json:"test_results"`
	Selection         *Selection        `json:"selection,omitempty"`
	ValidationResults []ChunkResult     `json:"validation_results"`
	Validation        ValidationMetrics `json:"validation"`
	FailedChunks      int               `json:"failed_chunks"`
}

// BestLevel returns the selected level, or NoValidQuantile before selection
func (r *Report) BestLevel() domain.QuantileLevel {
	if r == nil || r.Selection == nil {
		return domain.NoValidQuantile
	}
	return r.Selection.Level
}

// Evaluator runs the walk-forward state machine
type Evaluator struct {
	forecaster Forecaster
	opts       Options
	log        zerolog.Logger
	now        func() time.Time
}

// DefaultOptions drops an incomplete test tail and keeps a short final validation chunk
func DefaultOptions(horizonLen, contextLen int) Options {
	return Options{
		HorizonLen:       horizonLen,
		ContextLen:       contextLen,
		TestPolicy:       chunking.DropRemainder,
		ValidationPolicy: chunking.KeepShortFinal,
	}
}

// NewEvaluator creates an evaluator bound to one forecaster and horizon/context pair
func NewEvaluator(forecaster Forecaster, opts Options, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		forecaster: forecaster,
		opts:       opts,
		log:        log.With().Str("component", "walkforward").Logger(),
		now:        time.Now,
	}
}

// Run evaluates the test region chunk by chunk, selects the best level and
// validates it. The returned report is never nil; err is set when the run ends FAILED.
func (e *Evaluator) Run(ctx context.Context, split domain.Split, cb progress.Callback) (*Report, error) {
	m := newMachine(e.now)
	report := &Report{}
	finish := func(err error) (*Report, error) {
		if err != nil {
			m.fail(err.Error())
			report.FailureReason = err.Error()
		}
		report.State = m.state
		report.Transitions = m.history
		return report, err
	}

	if e.forecaster == nil {
		return finish(errors.New("no forecaster configured"))
	}
	if e.opts.HorizonLen <= 0 {
		return finish(&domain.DataPreparationError{Reason: fmt.Sprintf("horizon_len must be positive, got %d", e.opts.HorizonLen)})
	}
	if len(split.Train) == 0 {
		return finish(&domain.DataPreparationError{Reason: "empty training region"})
	}
	testChunks, err := chunking.Partition(split.Test, e.opts.HorizonLen, e.opts.TestPolicy)
	if err != nil {
		return finish(&domain.DataPreparationError{Reason: "test region cannot be chunked", Err: err})
	}
	if len(testChunks) == 0 {
		return finish(&domain.DataPreparationError{Reason: "test region shorter than one horizon"})
	}

	// EVALUATING_TEST
	if err := m.to(StateEvaluatingTest, ""); err != nil {
		return finish(err)
	}
	history := domain.Closes(split.Train)
	for _, chunk := range testChunks {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		res := e.evaluateChunk(ctx, history, chunk, domain.NoValidQuantile)
		report.TestResults = append(report.TestResults, res)
		if res.Failed {
			report.FailedChunks++
		}
		// chunk i's actuals become available to chunk i+1 only now
		history = append(history, chunk.Actuals()...)

		progress.Call(cb, progress.Update{
			Phase:   progress.PhaseEvaluating,
			Current: chunk.Index + 1,
			Total:   len(testChunks),
			Message: fmt.Sprintf("test chunk %d/%d", chunk.Index+1, len(testChunks)),
		})
	}

	// SELECTING_BEST
	if err := m.to(StateSelectingBest, ""); err != nil {
		return finish(err)
	}
	sel, err := Select(report.TestResults)
	if err != nil {
		return finish(err)
	}
	report.Selection = &sel
	progress.Call(cb, progress.Update{
		Phase:   progress.PhaseSelecting,
		Current: 1,
		Total:   1,
		Message: "selected " + string(sel.Level),
		Details: map[string]any{"composite_score": sel.Composite},
	})
	e.log.Info().
		Str("level", string(sel.Level)).
		Float64("composite", sel.Composite).
		Float64("mean_mse", sel.MeanMSE).
		Float64("mean_mae", sel.MeanMAE).
		Float64("return_diff_variance", sel.ReturnDiffVariance).
		Int("failed_chunks", report.FailedChunks).
		Msg("Best quantile selected")

	// VALIDATING
	if err := m.to(StateValidating, ""); err != nil {
		return finish(err)
	}
	report.Validation = ValidationMetrics{Level: sel.Level, MSE: math.Inf(1), MAE: math.Inf(1), ReturnDiff: math.Inf(1)}
	if len(split.Validation) > 0 {
		valChunks, err := chunking.Partition(split.Validation, e.opts.HorizonLen, e.opts.ValidationPolicy)
		if err != nil {
			return finish(&domain.DataPreparationError{Reason: "validation region cannot be chunked", Err: err})
		}
		history = append(domain.Closes(split.Train), domain.Closes(split.Test)...)
		for _, chunk := range valChunks {
			if err := ctx.Err(); err != nil {
				return finish(err)
			}
			res := e.evaluateChunk(ctx, history, chunk, sel.Level)
			report.ValidationResults = append(report.ValidationResults, res)
			history = append(history, chunk.Actuals()...)

			progress.Call(cb, progress.Update{
				Phase:   progress.PhaseValidating,
				Current: chunk.Index + 1,
				Total:   len(valChunks),
				Message: fmt.Sprintf("validation chunk %d/%d", chunk.Index+1, len(valChunks)),
			})
		}
		report.Validation = summariseValidation(sel.Level, report.ValidationResults)
	}

	if err := m.to(StateDone, ""); err != nil {
		return finish(err)
	}
	return finish(nil)
}

// evaluateChunk forecasts one chunk from history (everything strictly before it)
// and scores it. With fixed set, only that level is scored.
func (e *Evaluator) evaluateChunk(ctx context.Context, history []float64, chunk domain.Chunk, fixed domain.QuantileLevel) ChunkResult {
	actual := chunk.Actuals()
	res := ChunkResult{
		Index:  chunk.Index,
		Start:  chunk.Start(),
		End:    chunk.End(),
		Dates:  domain.Dates(chunk.Records),
		Actual: actual,
		Anchor: history[len(history)-1],
		Window: len(history),
		MSE:    math.Inf(1),
		MAE:    math.Inf(1),
	}

	window := append([]float64(nil), history...)
	forecast, err := e.forecaster.Forecast(ctx, window, e.opts.HorizonLen, e.opts.ContextLen)
	if err != nil {
		ferr := &domain.ChunkForecastError{Chunk: chunk.Index, Err: err}
		res.Failed = true
		res.Error = ferr.Error()
		e.log.Warn().Err(err).Int("chunk", chunk.Index).Msg("Chunk forecast failed, excluding from aggregation")
		return res
	}
	res.Forecast = forecast

	if fixed != domain.NoValidQuantile {
		res.Score = scoreFixed(actual, forecast, res.Anchor, fixed)
	} else {
		res.Score = scorer.Score(actual, forecast, res.Anchor)
	}
	if best, ok := res.Score.Best(); ok {
		res.MSE = best.MSE
		res.MAE = best.MAE
	} else {
		res.Error = "no valid quantile"
		e.log.Warn().Int("chunk", chunk.Index).Msg("No quantile could be scored for chunk")
	}
	return res
}

func scoreFixed(actual []float64, forecast domain.QuantileForecast, anchor float64, level domain.QuantileLevel) scorer.Result {
	out := scorer.Result{
		Metrics:      map[domain.QuantileLevel]scorer.Metrics{},
		BestByError:  domain.NoValidQuantile,
		BestByReturn: domain.NoValidQuantile,
	}
	pred, ok := forecast[level]
	if !ok || !(anchor > 0) {
		return out
	}
	m, ok := scorer.ScoreLevel(actual, pred, anchor)
	if !ok {
		return out
	}
	out.Metrics[level] = m
	out.BestByError = level
	out.BestByReturn = level
	out.Valid = true
	return out
}

func summariseValidation(level domain.QuantileLevel, results []ChunkResult) ValidationMetrics {
	v := ValidationMetrics{Level: level, Chunks: len(results), MSE: math.Inf(1), MAE: math.Inf(1), ReturnDiff: math.Inf(1)}
	var mses, maes, gaps []float64
	for _, r := range results {
		if r.Failed || !r.Score.Valid {
			continue
		}
		m := r.Score.Metrics[level]
		mses = append(mses, m.MSE)
		maes = append(maes, m.MAE)
		gaps = append(gaps, m.ReturnGap)
	}
	v.SuccessfulChunks = len(mses)
	if len(mses) > 0 {
		v.MSE = stat.Mean(mses, nil)
		v.MAE = stat.Mean(maes, nil)
		v.ReturnDiff = stat.Mean(gaps, nil)
	}
	return v
}

func finite(x float64) *float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	return &x
}
