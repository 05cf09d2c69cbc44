// Package runs orchestrates one evaluation and backtest run end to end and keeps
// a registry of runs started by this process.
package runs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/forecastbt/internal/clientdata"
	"github.com/aristath/forecastbt/internal/clients/forecaster"
	"github.com/aristath/forecastbt/internal/clients/store"
	"github.com/aristath/forecastbt/internal/config"
	"github.com/aristath/forecastbt/internal/domain"
	"github.com/aristath/forecastbt/internal/events"
	"github.com/aristath/forecastbt/internal/modules/backtest"
	"github.com/aristath/forecastbt/internal/modules/dataprep"
	"github.com/aristath/forecastbt/internal/modules/persistence"
	"github.com/aristath/forecastbt/internal/modules/reports"
	"github.com/aristath/forecastbt/internal/modules/walkforward"
	"github.com/aristath/forecastbt/internal/progress"
)

// DefaultHistoryYears is how far back history is fetched when no start date is given
const DefaultHistoryYears = 10

// PriceSource loads daily bars for one instrument
type PriceSource interface {
	PriceHistory(ctx context.Context, symbol string, stockType int, start, end time.Time) ([]store.StockBar, error)
}

// Persister writes a finished run to the remote store
type Persister interface {
	PersistRun(ctx context.Context, run persistence.RunArtifacts) persistence.Report
}

// ReportExporter writes a run report
type ReportExporter interface {
	Export(ctx context.Context, in reports.Input) (*reports.Location, error)
}

// RequestError is a run request rejected before any work started
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string { return "invalid run request: " + e.Err.Error() }

func (e *RequestError) Unwrap() error { return e.Err }

// EvaluationResponse is the evaluation half of a run response
type EvaluationResponse struct {
	Symbol               string               `json:"symbol"`
	UniqueKey            string               `json:"unique_key"`
	ModelVersion         string               `json:"model_version"`
	HorizonLen           int                  `json:"horizon_len"`
	ContextLen           int                  `json:"context_len"`
	Train                domain.Range         `json:"train_range"`
	Test                 domain.Range         `json:"test_range"`
	Validation           domain.Range         `json:"validation_range"`
	TrimmedRecords       int                  `json:"trimmed_records"`
	TotalChunks          int                  `json:"total_chunks"`
	SuccessfulChunks     int                  `json:"successful_chunks"`
	BestLevel            domain.QuantileLevel `json:"best_prediction_item"`
	Evaluation           *walkforward.Report  `json:"evaluation"`
	ValidationBenchmark  backtest.Returns     `json:"validation_benchmark"`
	ValidationPeriodDays int                  `json:"validation_period_days"`
	Persistence          *persistence.Report  `json:"persistence,omitempty"`
	Report               *reports.Location    `json:"report,omitempty"`
	ProcessingSeconds    float64              `json:"processing_time_seconds"`
}

// RunResponse is what one run returns
type RunResponse struct {
	RunID          string              `json:"run_id"`
	Response       *EvaluationResponse `json:"response"`
	BacktestResult *backtest.Result    `json:"backtest_result"`
}

// Deps are the collaborators of the service. Everything but Prices and Models is optional.
type Deps struct {
	Prices     PriceSource
	PriceCache *clientdata.Repository
	Models     *forecaster.ModelRegistry
	Persister  Persister
	Profiles   *config.Profiles
	Events     *events.Manager
	Runs       *Repository
	Reports    ReportExporter
}

// Settings are the service's tunables
type Settings struct {
	ModelVersion      string
	MinHistoryChunks  int
	MaxConcurrentRuns int
	PriceCacheTTL     time.Duration
}

// Service runs evaluations and backtests
type Service struct {
	deps     Deps
	settings Settings
	log      zerolog.Logger
	sem      chan struct{}
	now      func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates the run service
func NewService(deps Deps, settings Settings, log zerolog.Logger) *Service {
	if settings.MaxConcurrentRuns < 1 {
		settings.MaxConcurrentRuns = 1
	}
	if settings.PriceCacheTTL <= 0 {
		settings.PriceCacheTTL = clientdata.TTLPriceHistory
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		deps:     deps,
		settings: settings,
		log:      log.With().Str("service", "runs").Logger(),
		sem:      make(chan struct{}, settings.MaxConcurrentRuns),
		now:      time.Now,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// RunEvaluationAndBacktest runs one request to completion on the caller's goroutine
func (s *Service) RunEvaluationAndBacktest(ctx context.Context, req config.RunRequest) (*RunResponse, error) {
	run, err := s.register(req)
	if err != nil {
		return nil, err
	}
	return s.track(ctx, run)
}

// Submit registers a run and executes it in the background. Progress and the
// outcome are published as events and recorded in the run registry.
func (s *Service) Submit(req config.RunRequest) (*Run, error) {
	run, err := s.register(req)
	if err != nil {
		return nil, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.track(s.baseCtx, run)
	}()
	return run, nil
}

// Get returns a registered run, or nil when unknown
func (s *Service) Get(id string) (*Run, error) {
	if s.deps.Runs == nil {
		return nil, nil
	}
	return s.deps.Runs.Get(id)
}

// List returns recent runs
func (s *Service) List(limit int) ([]Run, error) {
	if s.deps.Runs == nil {
		return nil, nil
	}
	return s.deps.Runs.List(limit)
}

// Profiles returns the configured strategy profiles
func (s *Service) Profiles() *config.Profiles {
	return s.deps.Profiles
}

// Shutdown cancels background runs and waits for them until ctx expires
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) register(req config.RunRequest) (*Run, error) {
	req.Normalize(s.settings.ModelVersion)
	if err := req.Validate(); err != nil {
		return nil, &RequestError{Err: err}
	}
	if _, err := req.Params(s.deps.Profiles); err != nil {
		return nil, &RequestError{Err: err}
	}

	run := &Run{
		ID:        uuid.NewString(),
		Symbol:    req.Symbol,
		Status:    StatusPending,
		UniqueKey: persistence.UniqueKey(req.Symbol, req.HorizonLen, req.ContextLen, req.ModelVersion, req.Owner),
		Request:   req,
	}
	if s.deps.Runs != nil {
		if err := s.deps.Runs.Create(run); err != nil {
			return nil, err
		}
	}
	s.emitStatus(run, events.RunQueued, "")
	return run, nil
}

func (s *Service) track(ctx context.Context, run *Run) (*RunResponse, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.finish(run, nil, ctx.Err())
		return nil, ctx.Err()
	}
	defer func() { <-s.sem }()

	run.Status = StatusRunning
	if s.deps.Runs != nil {
		if err := s.deps.Runs.SetStatus(run.ID, StatusRunning, ""); err != nil {
			s.log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to mark run running")
		}
	}
	s.emitStatus(run, events.RunStarted, "")

	resp, err := s.execute(ctx, run.ID, run.Request)
	s.finish(run, resp, err)
	return resp, err
}

func (s *Service) finish(run *Run, resp *RunResponse, err error) {
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		s.log.Error().Err(err).Str("run_id", run.ID).Str("symbol", run.Symbol).Msg("Run failed")
		if s.deps.Runs != nil {
			if uerr := s.deps.Runs.SetStatus(run.ID, StatusFailed, err.Error()); uerr != nil {
				s.log.Warn().Err(uerr).Str("run_id", run.ID).Msg("Failed to record run failure")
			}
		}
		s.emitStatus(run, events.RunFailed, "")
		return
	}

	run.Status = StatusDone
	if s.deps.Runs != nil {
		if uerr := s.deps.Runs.Complete(run.ID, run.UniqueKey, resp); uerr != nil {
			s.log.Warn().Err(uerr).Str("run_id", run.ID).Msg("Failed to record run result")
		}
		if resp.Response.Report != nil {
			if uerr := s.deps.Runs.SetReportPath(run.ID, resp.Response.Report.Path); uerr != nil {
				s.log.Warn().Err(uerr).Str("run_id", run.ID).Msg("Failed to record report path")
			}
		}
	}
	s.emitStatus(run, events.RunCompleted, string(resp.Response.BestLevel))
}

func (s *Service) emitStatus(run *Run, t events.EventType, best string) {
	s.deps.Events.EmitTyped("runs", &events.RunStatusData{
		RunID:     run.ID,
		Symbol:    run.Symbol,
		UniqueKey: run.UniqueKey,
		Status:    string(run.Status),
		BestLevel: best,
		Error:     run.Error,
		Type:      t,
	})
}

// execute is the run pipeline: history, split, walk-forward evaluation,
// backtest over the validation chunks, then persistence and report export.
func (s *Service) execute(ctx context.Context, runID string, req config.RunRequest) (*RunResponse, error) {
	started := s.now()
	log := s.log.With().Str("run_id", runID).Str("symbol", req.Symbol).Logger()
	cb := newProgressReporter(s.deps.Events, runID).callback()

	params, err := req.Params(s.deps.Profiles)
	if err != nil {
		return nil, &RequestError{Err: err}
	}

	progress.Call(cb, progress.Update{Phase: progress.PhasePreparing, Message: "loading price history"})
	records, err := s.history(ctx, req)
	if err != nil {
		return nil, err
	}
	split, err := dataprep.Prepare(records, dataprep.Options{
		HorizonLen:       req.HorizonLen,
		MinHistoryChunks: s.settings.MinHistoryChunks,
		Indicators:       true,
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Int("records", len(records)).
		Int("train", len(split.Train)).
		Int("test", len(split.Test)).
		Int("validation", len(split.Validation)).
		Int("trimmed", split.Trimmed).
		Msg("History prepared")

	if s.deps.Models == nil {
		return nil, errors.New("no model registry configured")
	}
	handle := s.deps.Models.Acquire(req.HorizonLen, req.ContextLen)
	evaluator := walkforward.NewEvaluator(handle, walkforward.DefaultOptions(req.HorizonLen, handle.ContextLen()), log)
	report, err := evaluator.Run(ctx, split, cb)
	if err != nil {
		return nil, fmt.Errorf("evaluation ended %s: %w", report.State, err)
	}
	best := report.BestLevel()

	inputs := backtestInputs(report.ValidationResults, best)
	progress.Call(cb, progress.Update{Phase: progress.PhaseBacktesting, Current: 0, Total: len(inputs), Message: "replaying " + string(best)})
	sim, err := backtest.NewSimulator(params, log)
	if err != nil {
		return nil, &RequestError{Err: err}
	}
	result, err := sim.Run(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("backtest failed: %w", err)
	}
	progress.Call(cb, progress.Update{Phase: progress.PhaseBacktesting, Current: len(inputs), Total: len(inputs), Message: "backtest complete"})

	valBenchmark, valDays := backtest.BuyAndHold(domain.Dates(split.Validation), domain.Closes(split.Validation))

	key := persistence.UniqueKey(req.Symbol, req.HorizonLen, req.ContextLen, req.ModelVersion, req.Owner)
	resp := &RunResponse{
		RunID: runID,
		Response: &EvaluationResponse{
			Symbol:               req.Symbol,
			UniqueKey:            key,
			ModelVersion:         req.ModelVersion,
			HorizonLen:           req.HorizonLen,
			ContextLen:           req.ContextLen,
			Train:                domain.RangeOf(split.Train),
			Test:                 domain.RangeOf(split.Test),
			Validation:           domain.RangeOf(split.Validation),
			TrimmedRecords:       split.Trimmed,
			TotalChunks:          len(report.TestResults),
			SuccessfulChunks:     len(report.TestResults) - report.FailedChunks,
			BestLevel:            best,
			Evaluation:           report,
			ValidationBenchmark:  valBenchmark,
			ValidationPeriodDays: valDays,
		},
		BacktestResult: result,
	}

	if req.Persist && s.deps.Persister != nil {
		progress.Call(cb, progress.Update{Phase: progress.PhasePersisting, Message: "saving to store"})
		pr := s.deps.Persister.PersistRun(ctx, persistence.RunArtifacts{
			Symbol:               req.Symbol,
			StockType:            req.StockType,
			HorizonLen:           req.HorizonLen,
			ContextLen:           req.ContextLen,
			ModelVersion:         req.ModelVersion,
			Owner:                req.Owner,
			IsPublic:             req.Owner == nil,
			StrategyName:         req.Profile,
			Split:                split,
			Evaluation:           report,
			Backtest:             result,
			ValidationBenchmark:  valBenchmark,
			ValidationPeriodDays: valDays,
		})
		resp.Response.Persistence = &pr
	}

	if s.deps.Reports != nil {
		loc, err := s.deps.Reports.Export(ctx, reports.Input{
			RunID:       runID,
			Symbol:      req.Symbol,
			UniqueKey:   key,
			Split:       split,
			Evaluation:  report,
			Backtest:    result,
			GeneratedAt: s.now().UTC(),
		})
		if err != nil {
			log.Warn().Err(err).Msg("Report export failed")
			s.deps.Events.EmitError("runs", err, map[string]interface{}{"run_id": runID, "stage": "report"})
		} else {
			resp.Response.Report = loc
			s.deps.Events.EmitTyped("runs", &events.ReportStoredData{
				RunID:    runID,
				Path:     loc.Path,
				Uploaded: loc.Uploaded,
				Location: loc.Remote,
			})
		}
	}

	resp.Response.ProcessingSeconds = s.now().Sub(started).Seconds()
	progress.Call(cb, progress.Update{Phase: progress.PhaseDone, Current: 1, Total: 1, Message: "done"})
	log.Info().
		Str("best_level", string(best)).
		Float64("return_pct", result.Net.TotalPct).
		Float64("benchmark_pct", result.Benchmark.TotalPct).
		Float64("seconds", resp.Response.ProcessingSeconds).
		Msg("Run completed")
	return resp, nil
}

// backtestInputs hands the selected level's validation forecasts to the simulator.
// Chunks the scorer dropped keep their prices but trade as no-forecast chunks.
func backtestInputs(results []walkforward.ChunkResult, level domain.QuantileLevel) []backtest.Input {
	out := make([]backtest.Input, 0, len(results))
	for _, r := range results {
		in := backtest.Input{Index: r.Index, Dates: r.Dates, Actual: r.Actual}
		if !r.Failed && r.Score.Valid {
			in.Forecast = r.Forecast[level]
		}
		out = append(out, in)
	}
	return out
}

// history loads bars through the local cache. A cache failure only costs a refetch.
func (s *Service) history(ctx context.Context, req config.RunRequest) ([]domain.Record, error) {
	if s.deps.Prices == nil {
		return nil, &domain.DataPreparationError{Reason: "no price source configured"}
	}
	start, end, err := req.DateRange()
	if err != nil {
		return nil, &RequestError{Err: err}
	}
	if end.IsZero() {
		end = s.now().UTC().Truncate(24 * time.Hour)
	}
	if start.IsZero() {
		start = end.AddDate(-DefaultHistoryYears, 0, 0)
	}

	key := fmt.Sprintf("%s|%d|%s|%s", req.Symbol, req.StockType, start.Format(config.DateLayout), end.Format(config.DateLayout))
	var bars []store.StockBar
	if cache := s.deps.PriceCache; cache != nil {
		ok, err := cache.GetIfFresh(clientdata.TablePriceHistory, key, &bars)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Price cache read failed")
		}
		if ok {
			return store.Records(bars), nil
		}
	}

	bars, err = s.deps.Prices.PriceHistory(ctx, req.Symbol, req.StockType, start, end)
	if err != nil {
		return nil, &domain.DataPreparationError{Reason: "price history unavailable", Err: err}
	}
	if len(bars) == 0 {
		return nil, &domain.DataPreparationError{Reason: fmt.Sprintf("no price history for %s", req.Symbol)}
	}
	if cache := s.deps.PriceCache; cache != nil {
		if err := cache.Store(clientdata.TablePriceHistory, key, bars, s.settings.PriceCacheTTL); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Price cache write failed")
		}
	}
	return store.Records(bars), nil
}
