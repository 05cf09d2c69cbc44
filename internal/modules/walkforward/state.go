package walkforward

import (
	"fmt"
	"time"
)

// State is a stage of one evaluation run
type State string

const (
	StateInit           State = "INIT"
	StateEvaluatingTest State = "EVALUATING_TEST"
	StateSelectingBest  State = "SELECTING_BEST"
	StateValidating     State = "VALIDATING"
	StateDone           State = "DONE"
	StateFailed         State = "FAILED"
)

// allowed lists the legal successors of each state
var allowed = map[State][]State{
	StateInit:           {StateEvaluatingTest, StateFailed},
	StateEvaluatingTest: {StateSelectingBest, StateFailed},
	StateSelectingBest:  {StateValidating, StateFailed},
	StateValidating:     {StateDone, StateFailed},
}

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition reports whether from -> to is a legal step
func CanTransition(from, to State) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition records one state change
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// machine tracks the current state and its history
type machine struct {
	state   State
	history []Transition
	now     func() time.Time
}

func newMachine(now func() time.Time) *machine {
	if now == nil {
		now = time.Now
	}
	return &machine{state: StateInit, now: now}
}

func (m *machine) to(next State, reason string) error {
	if !CanTransition(m.state, next) {
		return fmt.Errorf("illegal transition %s -> %s", m.state, next)
	}
	m.history = append(m.history, Transition{From: m.state, To: next, At: m.now(), Reason: reason})
	m.state = next
	return nil
}

func (m *machine) fail(reason string) {
	if m.state.Terminal() {
		return
	}
	m.history = append(m.history, Transition{From: m.state, To: StateFailed, At: m.now(), Reason: reason})
	m.state = StateFailed
}
