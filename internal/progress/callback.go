// Package progress carries progress updates out of long-running evaluation and backtest loops.
package progress

// Phase identifies the stage of a run that produced an update
type Phase string

const (
	PhasePreparing   Phase = "preparing"
	PhaseEvaluating  Phase = "evaluating_test"
	PhaseSelecting   Phase = "selecting_best"
	PhaseValidating  Phase = "validating"
	PhaseBacktesting Phase = "backtesting"
	PhasePersisting  Phase = "persisting"
	PhaseDone        Phase = "done"
)

// Update is a single progress report.
// Current and Total count chunks within the phase.
type Update struct {
	Phase   Phase          `json:"phase"`
	Current int            `json:"current"`
	Total   int            `json:"total"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Callback receives progress updates. A nil Callback is valid.
type Callback func(update Update)

// Call invokes cb if it is non-nil
func Call(cb Callback, update Update) {
	if cb != nil {
		cb(update)
	}
}

// Chain fans an update out to every non-nil callback in order
func Chain(cbs ...Callback) Callback {
	return func(update Update) {
		for _, cb := range cbs {
			Call(cb, update)
		}
	}
}
