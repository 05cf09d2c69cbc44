package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aristath/forecastbt/internal/clients/store"
	"github.com/aristath/forecastbt/internal/domain"
	"github.com/rs/zerolog"
)

// Write operation names used in reports and errors
const (
	OpSaveBest            = "save_best"
	OpSaveValidationChunk = "save_validation_chunk"
	OpSaveBacktest        = "save_backtest"
	OpSaveStrategyParams  = "save_strategy_params"
)

// Outcome statuses
const (
	StatusSucceeded = "succeeded"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// Store is the remote persistence surface the adapter writes through
type Store interface {
	SaveBest(ctx context.Context, rec store.BestRecord) error
	SaveValidationChunk(ctx context.Context, rec store.ValidationChunkRecord) error
	SaveBacktest(ctx context.Context, rec store.BacktestRecord) error
	SaveStrategyParams(ctx context.Context, rec store.StrategyParamsRecord) error
	GetBestByUniqueKey(ctx context.Context, uniqueKey string) (*store.BestRecord, error)
}

// Outcome is the result of one attempted write
type Outcome struct {
	Op         string `json:"op"`
	ChunkIndex *int   `json:"chunk_index,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// Report summarises the writes of one run. Persistence problems never abort a run;
// they end up here and travel with the run response.
type Report struct {
	UniqueKey string    `json:"unique_key"`
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Errors    []string  `json:"errors,omitempty"`
	Outcomes  []Outcome `json:"outcomes"`
}

func (r *Report) record(op string, chunk *int, err error) {
	r.Attempted++
	o := Outcome{Op: op, ChunkIndex: chunk, Status: StatusSucceeded}
	if err != nil {
		var pre *domain.ReferentialPreconditionError
		if errors.As(err, &pre) {
			o.Status = StatusSkipped
			r.Skipped++
		} else {
			o.Status = StatusFailed
			r.Failed++
		}
		o.Error = err.Error()
		r.Errors = append(r.Errors, err.Error())
	} else {
		r.Succeeded++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// Adapter guards dependent writes behind a confirmed best record
type Adapter struct {
	store     Store
	log       zerolog.Logger
	mu        sync.Mutex
	confirmed map[string]struct{}
}

// NewAdapter creates a persistence adapter
func NewAdapter(s Store, log zerolog.Logger) *Adapter {
	return &Adapter{
		store:     s,
		log:       log.With().Str("component", "persistence").Logger(),
		confirmed: make(map[string]struct{}),
	}
}

// SaveBest upserts the parent record. Repeating it with the same payload is harmless.
func (a *Adapter) SaveBest(ctx context.Context, rec store.BestRecord) error {
	if err := a.store.SaveBest(ctx, rec); err != nil {
		return fmt.Errorf("failed to save best record: %w", err)
	}
	a.markConfirmed(rec.UniqueKey)
	return nil
}

// ConfirmBest reports whether a best record exists for key, asking the store
// when this process has not written or seen one yet.
func (a *Adapter) ConfirmBest(ctx context.Context, key string) (bool, error) {
	if a.isConfirmed(key) {
		return true, nil
	}
	rec, err := a.store.GetBestByUniqueKey(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to look up best record: %w", err)
	}
	if rec == nil {
		return false, nil
	}
	a.markConfirmed(key)
	return true, nil
}

// LookupBest returns the stored best record for key, or nil when absent
func (a *Adapter) LookupBest(ctx context.Context, key string) (*store.BestRecord, error) {
	rec, err := a.store.GetBestByUniqueKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to look up best record: %w", err)
	}
	if rec != nil {
		a.markConfirmed(key)
	}
	return rec, nil
}

// SaveValidationChunk upserts one validation chunk under its best record
func (a *Adapter) SaveValidationChunk(ctx context.Context, rec store.ValidationChunkRecord) error {
	if err := a.guard(ctx, rec.UniqueKey, OpSaveValidationChunk); err != nil {
		return err
	}
	if err := a.store.SaveValidationChunk(ctx, rec); err != nil {
		return fmt.Errorf("failed to save validation chunk %d: %w", rec.ChunkIndex, err)
	}
	return nil
}

// SaveBacktest stores the backtest summary under its best record
func (a *Adapter) SaveBacktest(ctx context.Context, rec store.BacktestRecord) error {
	if err := a.guard(ctx, rec.UniqueKey, OpSaveBacktest); err != nil {
		return err
	}
	if err := a.store.SaveBacktest(ctx, rec); err != nil {
		return fmt.Errorf("failed to save backtest: %w", err)
	}
	return nil
}

// SaveStrategyParams upserts the parameter set under its best record
func (a *Adapter) SaveStrategyParams(ctx context.Context, rec store.StrategyParamsRecord) error {
	if err := a.guard(ctx, rec.UniqueKey, OpSaveStrategyParams); err != nil {
		return err
	}
	if err := a.store.SaveStrategyParams(ctx, rec); err != nil {
		return fmt.Errorf("failed to save strategy params: %w", err)
	}
	return nil
}

// PersistRun writes best, validation chunks in ascending order, backtest and
// strategy params. It never fails; every outcome lands in the report.
func (a *Adapter) PersistRun(ctx context.Context, run RunArtifacts) Report {
	key := run.Key()
	report := Report{UniqueKey: key}
	if run.Evaluation == nil || run.Evaluation.BestLevel() == domain.NoValidQuantile {
		report.Errors = append(report.Errors, "no selected quantile, nothing persisted")
		return report
	}

	report.record(OpSaveBest, nil, a.SaveBest(ctx, run.BestRecord()))

	// One lookup decides for all children, so a missing parent costs no child requests.
	ok, err := a.ConfirmBest(ctx, key)
	childErr := func(op string) error {
		if err != nil || !ok {
			return &domain.ReferentialPreconditionError{UniqueKey: key, Op: op, Err: err}
		}
		return nil
	}

	for _, rec := range run.ValidationChunkRecords() {
		idx := rec.ChunkIndex
		if e := childErr(OpSaveValidationChunk); e != nil {
			report.record(OpSaveValidationChunk, &idx, e)
			continue
		}
		report.record(OpSaveValidationChunk, &idx, a.SaveValidationChunk(ctx, rec))
	}

	if run.Backtest != nil {
		if e := childErr(OpSaveBacktest); e != nil {
			report.record(OpSaveBacktest, nil, e)
		} else {
			report.record(OpSaveBacktest, nil, a.SaveBacktest(ctx, run.BacktestRecord()))
		}

		if e := childErr(OpSaveStrategyParams); e != nil {
			report.record(OpSaveStrategyParams, nil, e)
		} else {
			report.record(OpSaveStrategyParams, nil, a.SaveStrategyParams(ctx, run.StrategyParamsRecord()))
		}
	}

	ev := a.log.Info()
	if report.Failed > 0 || report.Skipped > 0 {
		ev = a.log.Warn()
	}
	ev.Str("unique_key", key).
		Int("attempted", report.Attempted).
		Int("succeeded", report.Succeeded).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("Run persisted")

	return report
}

// guard fails with a ReferentialPreconditionError unless the best record is confirmed
func (a *Adapter) guard(ctx context.Context, key, op string) error {
	ok, err := a.ConfirmBest(ctx, key)
	if err != nil {
		return &domain.ReferentialPreconditionError{UniqueKey: key, Op: op, Err: err}
	}
	if !ok {
		a.log.Warn().Str("unique_key", key).Str("op", op).Msg("Dependent write skipped, best record missing")
		return &domain.ReferentialPreconditionError{UniqueKey: key, Op: op}
	}
	return nil
}

func (a *Adapter) isConfirmed(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.confirmed[key]
	return ok
}

func (a *Adapter) markConfirmed(key string) {
	a.mu.Lock()
	a.confirmed[key] = struct{}{}
	a.mu.Unlock()
}
