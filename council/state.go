package council

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentcouncil/agent"
	"github.com/hupe1980/agentcouncil/core"
)

// State is a controller phase.
type State string

const (
	StateReceived          State = "received"
	StatePreprocessed      State = "preprocessed"
	StatePlanning          State = "planning"
	StateDebate            State = "debate"
	StateParallelExecution State = "parallel_execution"
	StateReviewing         State = "reviewing"
	StateRefining          State = "refining"
	StateFinalizing        State = "finalizing"
	StateDone              State = "done"
	StateErrored           State = "errored"
)

var transitions = map[State][]State{
	StateReceived:          {StatePreprocessed},
	StatePreprocessed:      {StatePlanning, StateDone},
	StatePlanning:          {StateDebate, StateParallelExecution},
	StateDebate:            {StateParallelExecution, StateReviewing},
	StateParallelExecution: {StateReviewing},
	StateReviewing:         {StateRefining, StateFinalizing},
	StateRefining:          {StateRefining, StateFinalizing},
	StateFinalizing:        {StateDone},
}

// CanTransition reports whether from → to is a legal step. Every non-terminal
// state may move to StateErrored.
func CanTransition(from, to State) bool {
	if to == StateErrored {
		return from != StateDone && from != StateErrored
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Run is the state of one council turn. Only the goroutine driving the run
// mutates it; State and Path are safe to read concurrently.
type Run struct {
	ID        string
	SessionID string
	UserID    string
	Theme     agent.Theme
	StartedAt time.Time

	input    string
	registry *agent.Registry
	budget   *core.Budget
	events   chan<- core.Event

	mu    sync.RWMutex
	state State
	path  []State

	// directives already executed in this run, by raw text
	executed map[string]struct{}
	finals   int
}

// State returns the current phase.
func (r *Run) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Path returns every phase visited so far, in order.
func (r *Run) Path() []State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]State(nil), r.path...)
}

// Budget returns the run's advisory token budget.
func (r *Run) Budget() *core.Budget { return r.budget }

func (r *Run) setState(to State) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	from := r.state
	if !CanTransition(from, to) {
		return from, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	r.state = to
	r.path = append(r.path, to)
	return from, nil
}
