package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/council"
	"github.com/hupe1980/agentcouncil/logging"
)

var (
	// ErrBusy is returned when the concurrent run limit is reached.
	ErrBusy = errors.New("too many concurrent council runs")
	// ErrRunNotFound is returned by Cancel for unknown or finished runs.
	ErrRunNotFound = errors.New("run not found")
)

// Council starts council runs. *council.Council satisfies it.
type Council interface {
	Run(ctx context.Context, req council.Request) (*council.Run, <-chan core.Event, <-chan error)
}

// Options holds configuration overrides passed to New().
type Options struct {
	// MaxConcurrentRuns limits runs in flight; 0 disables the limit.
	MaxConcurrentRuns int
	// EventBufferSize sets channel buffering for relayed events.
	EventBufferSize int
	// RunTimeout bounds a whole run; 0 disables the deadline.
	RunTimeout time.Duration
	// Logging services.
	Logger logging.Logger
}

// Runner admits council runs, tracks them for cancellation and relays their
// event streams. Public methods are safe for concurrent use.
type Runner struct {
	council Council

	maxConcurrentRuns int
	eventBufferSize   int
	runTimeout        time.Duration
	logger            logging.Logger

	activeRuns map[string]context.CancelFunc
	mu         sync.RWMutex
}

// New constructs a Runner with optional overrides.
func New(c Council, optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxConcurrentRuns: 10,
		EventBufferSize:   100,
		RunTimeout:        15 * time.Minute,
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Runner{
		council:           c,
		maxConcurrentRuns: opts.MaxConcurrentRuns,
		eventBufferSize:   opts.EventBufferSize,
		runTimeout:        opts.RunTimeout,
		logger:            logging.OrNoOp(opts.Logger),
		activeRuns:        make(map[string]context.CancelFunc),
	}
}

// Run starts an asynchronous council run and returns its id.
func (r *Runner) Run(ctx context.Context, req council.Request) (string, <-chan core.Event, <-chan error, error) {
	var cancel context.CancelFunc
	if r.runTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.runTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	r.mu.Lock()
	if r.maxConcurrentRuns > 0 && len(r.activeRuns) >= r.maxConcurrentRuns {
		r.mu.Unlock()
		cancel()
		return "", nil, nil, ErrBusy
	}
	run, events, errs := r.council.Run(ctx, req)
	r.activeRuns[run.ID] = cancel
	r.mu.Unlock()

	eventsCh := make(chan core.Event, r.eventBufferSize)
	errorsCh := make(chan error, 1)

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.activeRuns, run.ID)
			r.mu.Unlock()
			cancel()
			close(eventsCh)
			close(errorsCh)
		}()

		r.relay(ctx, run, events, errs, eventsCh, errorsCh)
	}()

	return run.ID, eventsCh, errorsCh, nil
}

// RunSync runs a turn to completion and returns its events.
func (r *Runner) RunSync(ctx context.Context, req council.Request) ([]core.Event, error) {
	_, events, errs, err := r.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	var out []core.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out, <-errs
}

// Cancel cancels a running run by ID.
func (r *Runner) Cancel(runID string) error {
	r.mu.RLock()
	cancel, exists := r.activeRuns[runID]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("cancel %s: %w", runID, ErrRunNotFound)
	}

	cancel()

	return nil
}

// Active returns the number of runs in flight.
func (r *Runner) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.activeRuns)
}

// relay forwards the council stream until both channels close. A consumer
// that stops reading is released by cancelling the run context.
func (r *Runner) relay(ctx context.Context, run *council.Run, events <-chan core.Event, errs <-chan error, eventsCh chan<- core.Event, errorsCh chan<- error) {
	start := time.Now()
	delivered, warnings := 0, 0

	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.IsWarning() {
				warnings++
			}
			select {
			case <-ctx.Done():
				// keep draining so the council goroutine can finish
				continue
			case eventsCh <- ev:
				delivered++
				r.logger.Debug("Runner delivered event", "event_id", ev.ID, "run_id", run.ID, "tag", ev.Tag)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				r.logger.Warn("Council run failed", "run_id", run.ID, "error", err)
				errorsCh <- err
			}
		}
	}

	logging.ForRun(r.logger, run.SessionID, run.ID).Info("Council run finished",
		"state", string(run.State()),
		"events", delivered,
		"warnings", warnings,
		"tokens_used", run.Budget().Used(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
