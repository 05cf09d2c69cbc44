package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/forecastbt/internal/config"
	"github.com/aristath/forecastbt/internal/modules/runs"
)

// Defaults for watchlist entries that name only a symbol
const (
	DefaultWatchHorizonLen = 10
	DefaultWatchContextLen = 512
	watchRunTimeout        = 30 * time.Minute
)

// Runner executes one evaluation and backtest run
type Runner interface {
	RunEvaluationAndBacktest(ctx context.Context, req config.RunRequest) (*runs.RunResponse, error)
}

// WatchEntry is one watchlist line
type WatchEntry struct {
	Symbol     string
	HorizonLen int
	ContextLen int
}

// ParseWatchlist parses entries of the form SYMBOL[:HORIZON[:CONTEXT]]
func ParseWatchlist(items []string) ([]WatchEntry, error) {
	out := make([]WatchEntry, 0, len(items))
	for _, item := range items {
		parts := strings.Split(strings.TrimSpace(item), ":")
		if parts[0] == "" {
			continue
		}
		e := WatchEntry{Symbol: parts[0], HorizonLen: DefaultWatchHorizonLen, ContextLen: DefaultWatchContextLen}
		if len(parts) > 3 {
			return nil, fmt.Errorf("watchlist entry %q: too many fields", item)
		}
		if len(parts) > 1 {
			n, err := strconv.Atoi(parts[1])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("watchlist entry %q: invalid horizon", item)
			}
			e.HorizonLen = n
		}
		if len(parts) > 2 {
			n, err := strconv.Atoi(parts[2])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("watchlist entry %q: invalid context", item)
			}
			e.ContextLen = n
		}
		out = append(out, e)
	}
	return out, nil
}

// WatchlistJob re-evaluates every watchlist entry and persists the results
type WatchlistJob struct {
	ctx     context.Context
	runner  Runner
	entries []WatchEntry
	log     zerolog.Logger
}

// NewWatchlistJob creates the job. ctx bounds every run the job starts.
func NewWatchlistJob(ctx context.Context, runner Runner, entries []WatchEntry, log zerolog.Logger) *WatchlistJob {
	return &WatchlistJob{
		ctx:     ctx,
		runner:  runner,
		entries: entries,
		log:     log.With().Str("job", "watchlist").Logger(),
	}
}

// Name returns the job name
func (j *WatchlistJob) Name() string {
	return "watchlist_evaluation"
}

// Run evaluates the entries one after another. Failures do not stop the
// remaining entries; they are returned together.
func (j *WatchlistJob) Run() error {
	var errs []error
	succeeded := 0
	for _, e := range j.entries {
		if err := j.ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		ctx, cancel := context.WithTimeout(j.ctx, watchRunTimeout)
		resp, err := j.runner.RunEvaluationAndBacktest(ctx, config.RunRequest{
			Symbol:     e.Symbol,
			HorizonLen: e.HorizonLen,
			ContextLen: e.ContextLen,
			Persist:    true,
		})
		cancel()
		if err != nil {
			j.log.Warn().Err(err).Str("symbol", e.Symbol).Msg("Watchlist run failed")
			errs = append(errs, fmt.Errorf("%s: %w", e.Symbol, err))
			continue
		}

		succeeded++
		j.log.Info().
			Str("symbol", e.Symbol).
			Str("best_level", string(resp.Response.BestLevel)).
			Float64("return_pct", resp.BacktestResult.Net.TotalPct).
			Msg("Watchlist run completed")
	}

	j.log.Info().
		Int("entries", len(j.entries)).
		Int("succeeded", succeeded).
		Msg("Watchlist evaluation finished")
	return errors.Join(errs...)
}
