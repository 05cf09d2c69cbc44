package runs

import (
	"sync"
	"time"

	"github.com/aristath/forecastbt/internal/events"
	"github.com/aristath/forecastbt/internal/progress"
)

// progressReporter turns evaluator progress into run progress events.
// Updates inside one phase are throttled; phase changes and the last chunk of a phase always go out.
type progressReporter struct {
	em          *events.Manager
	runID       string
	minInterval time.Duration

	mu         sync.Mutex
	lastPhase  progress.Phase
	lastReport time.Time
}

func newProgressReporter(em *events.Manager, runID string) *progressReporter {
	return &progressReporter{em: em, runID: runID, minInterval: 100 * time.Millisecond}
}

func (pr *progressReporter) callback() progress.Callback {
	if pr.em == nil {
		return nil
	}
	return pr.report
}

func (pr *progressReporter) report(u progress.Update) {
	pr.mu.Lock()
	now := time.Now()
	samePhase := u.Phase == pr.lastPhase
	if samePhase && now.Sub(pr.lastReport) < pr.minInterval && u.Current != u.Total {
		pr.mu.Unlock()
		return
	}
	pr.lastPhase = u.Phase
	pr.lastReport = now
	pr.mu.Unlock()

	pr.em.EmitTyped("runs", &events.RunProgressData{
		RunID:   pr.runID,
		Phase:   string(u.Phase),
		Current: u.Current,
		Total:   u.Total,
		Message: u.Message,
		Details: u.Details,
	})
}
