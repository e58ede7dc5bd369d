package council

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentcouncil/agent"
	"github.com/hupe1980/agentcouncil/classify"
	"github.com/hupe1980/agentcouncil/contextbuilder"
	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/internal/idgen"
	"github.com/hupe1980/agentcouncil/logging"
	"github.com/hupe1980/agentcouncil/model"
	"github.com/hupe1980/agentcouncil/tool"
)

// Gateway calls a council agent's model chain. *model.Gateway satisfies it.
type Gateway interface {
	Call(ctx context.Context, t model.Target, msgs []model.Message, maxTokens int64) (model.Result, error)
}

// ContextBuilder assembles bounded agent context.
// *contextbuilder.Builder satisfies it.
type ContextBuilder interface {
	Build(ctx context.Context, sessionID, input, userScope string) ([]model.Message, contextbuilder.Stats)
}

// Store is the never-failing persistence surface. *persistence.Facade
// satisfies it.
type Store interface {
	CreateSession(ctx context.Context, title, theme, userID string) string
	EnsureSession(ctx context.Context, id, title, theme, userID string) core.Session
	SaveMessage(ctx context.Context, sessionID string, role core.Role, agent, content string) core.Message
	AddFile(ctx context.Context, sessionID, name string, size int)
	SaveMemory(ctx context.Context, content, userID string) bool
}

// Attachment is a file submitted with a request.
type Attachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Request is one user turn.
type Request struct {
	Theme      string      `json:"theme,omitempty"`
	Input      string      `json:"input"`
	SessionID  string      `json:"session_id,omitempty"`
	UserID     string      `json:"user_id,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Options configures a Council.
type Options struct {
	// Models maps model keys (MODEL_OPUS, ...) to routable model names.
	Models map[string]string
	// Definitions overrides the built-in agents.
	Definitions []agent.Definition
	// DefaultTheme applies to requests without a theme.
	DefaultTheme string

	// TokenBudget is the advisory per-run token ceiling.
	TokenBudget int
	// MaxRefinements caps the Implementer/Reasoner revision rounds.
	MaxRefinements int
	// SlotTimeout bounds each call of the parallel fan-out.
	SlotTimeout time.Duration
	// SkipArbiterMinChars is the minimum solution length for skipping the
	// arbiter after an immediate approval.
	SkipArbiterMinChars int
	// AttachmentChars caps the attachment copy stored with the user message.
	AttachmentChars int
	// MaxFetchURLs and FetchChars bound input-side URL fetching.
	MaxFetchURLs int
	FetchChars   int
	// ContextCeiling bounds the characters of every agent request that
	// carries a task. It matches the context builder's ceiling.
	ContextCeiling int
	// EventBuffer is the capacity of the event channel.
	EventBuffer int

	Classifiers classify.Set
	// OnTransition observes every state change.
	OnTransition func(run *Run, from, to State)
	Now          func() time.Time
	Logger       logging.Logger
}

// Council drives council runs. It is safe for concurrent use; each run owns
// its budget and registry.
type Council struct {
	gateway Gateway
	builder ContextBuilder
	store   Store
	tools   *tool.Dispatcher
	opts    Options
	logger  logging.Logger

	mu   sync.Mutex
	runs map[string]*Run
}

// New creates a Council. tools may be nil, which disables every tool.
func New(gateway Gateway, builder ContextBuilder, store Store, tools *tool.Dispatcher, optFns ...func(o *Options)) *Council {
	opts := Options{
		DefaultTheme:        string(agent.DefaultTheme),
		TokenBudget:         15000,
		MaxRefinements:      3,
		SlotTimeout:         180 * time.Second,
		SkipArbiterMinChars: 200,
		AttachmentChars:     10000,
		MaxFetchURLs:        2,
		FetchChars:          2000,
		ContextCeiling:      24000,
		EventBuffer:         100,
		Classifiers:         classify.Default(),
		Now:                 time.Now,
		Logger:              logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if tools == nil {
		tools = &tool.Dispatcher{}
	}
	return &Council{
		gateway: gateway,
		builder: builder,
		store:   store,
		tools:   tools,
		opts:    opts,
		logger:  logging.OrNoOp(opts.Logger),
		runs:    make(map[string]*Run),
	}
}

// Registry returns the agent registry for a theme.
func (c *Council) Registry(theme string) *agent.Registry {
	if theme == "" {
		theme = c.opts.DefaultTheme
	}
	return agent.NewRegistry(func(o *agent.Options) {
		o.Theme = theme
		o.Models = c.opts.Models
		o.Definitions = c.opts.Definitions
		o.Now = c.opts.Now
	})
}

// Validate checks the agent registry.
func (c *Council) Validate() error {
	return c.Registry("").Validate()
}

// Run starts a council turn. Events are streamed in order on the first
// channel; the error channel reports cancellation. Both are closed when the
// run ends.
func (c *Council) Run(ctx context.Context, req Request) (*Run, <-chan core.Event, <-chan error) {
	events := make(chan core.Event, c.opts.EventBuffer)
	errs := make(chan error, 1)

	reg := c.Registry(req.Theme)
	run := &Run{
		ID:        idgen.New(),
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Theme:     reg.Theme(),
		StartedAt: c.opts.Now(),
		registry:  reg,
		budget:    core.NewBudget(c.opts.TokenBudget),
		events:    events,
		state:     StateReceived,
		path:      []State{StateReceived},
		executed:  make(map[string]struct{}),
	}

	c.mu.Lock()
	c.runs[run.ID] = run
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.runs, run.ID)
			c.mu.Unlock()
			close(events)
			close(errs)
		}()

		if err := c.execute(ctx, run, req); err != nil {
			c.transition(run, StateErrored)
			errs <- fmt.Errorf("council run %s: %w", run.ID, err)
		}
	}()

	return run, events, errs
}

// RunSync runs a turn to completion and returns its events.
func (c *Council) RunSync(ctx context.Context, req Request) ([]core.Event, error) {
	_, events, errs := c.Run(ctx, req)
	var out []core.Event
	for ev := range events {
		out = append(out, ev)
	}
	if err := <-errs; err != nil {
		return out, err
	}
	return out, nil
}

// Active returns the number of runs in flight.
func (c *Council) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.runs)
}

func (c *Council) transition(run *Run, to State) {
	from, err := run.setState(to)
	if err != nil {
		c.logger.Error("Council state machine violation", "run_id", run.ID, "error", err)
		return
	}
	logging.LogPhase(c.logger, run.ID, string(from), string(to))
	if c.opts.OnTransition != nil {
		c.opts.OnTransition(run, from, to)
	}
}

// emit delivers ev unless the run was cancelled.
func (c *Council) emit(ctx context.Context, run *Run, ev core.Event) error {
	if ev.Final {
		run.finals++
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case run.events <- ev:
		return nil
	}
}
