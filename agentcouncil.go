// Package agentcouncil provides a high-level facade over the council
// controller and its services (model gateway, persistence, context builder
// and tools). Most applications interact with this package by:
//  1. Loading a config.Config (or starting from config.Default())
//  2. Creating a Council via New(), optionally overriding the gateway,
//     stores or tools
//  3. Running turns asynchronously (Run) or synchronously (RunSync)
//
// Every unset service is built from the configuration. Providers without
// credentials are left unconfigured; their models are skipped by the
// gateway's fallback chain.
package agentcouncil

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/hupe1980/agentcouncil/agent"
	"github.com/hupe1980/agentcouncil/code"
	"github.com/hupe1980/agentcouncil/config"
	"github.com/hupe1980/agentcouncil/contextbuilder"
	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/council"
	"github.com/hupe1980/agentcouncil/logging"
	"github.com/hupe1980/agentcouncil/memory"
	"github.com/hupe1980/agentcouncil/model"
	"github.com/hupe1980/agentcouncil/model/anthropic"
	"github.com/hupe1980/agentcouncil/model/openai"
	"github.com/hupe1980/agentcouncil/persistence"
	"github.com/hupe1980/agentcouncil/runner"
	"github.com/hupe1980/agentcouncil/session"
	"github.com/hupe1980/agentcouncil/sqlite"
	"github.com/hupe1980/agentcouncil/tool"
)

type (
	// Request is one user turn.
	Request = council.Request
	// Attachment is a file submitted with a request.
	Attachment = council.Attachment
)

// Options configures the Council instance.
type Options struct {
	// Config drives every service built by New (defaults to config.Default()).
	Config *config.Config

	// Gateway overrides the provider gateway built from Config.
	Gateway council.Gateway
	// Stores (default to the backend selected by Config.Store)
	SessionStore core.SessionStore
	MemoryStore  core.MemoryStore
	// Embedder overrides the memory embedder.
	Embedder memory.Embedder
	// Tools overrides the directive tools built from Config.Tools.
	Tools *tool.Dispatcher

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Council is the high-level facade aggregating the controller and services.
type Council struct {
	cfg     *config.Config
	store   *persistence.Facade
	council *council.Council
	runner  *runner.Runner
	db      *sql.DB
	logger  logging.Logger
}

// New creates a Council.
func New(optFns ...func(o *Options)) (*Council, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	cfg := opts.Config
	logger := logging.OrNoOp(opts.Logger)

	var db *sql.DB
	if opts.SessionStore == nil || opts.MemoryStore == nil {
		switch cfg.Store.Backend {
		case "sqlite":
			var err error
			if db, err = sqlite.Open(cfg.Store.DBPath); err != nil {
				return nil, fmt.Errorf("open store: %w", err)
			}
			st := sqlite.NewStore(db)
			if opts.SessionStore == nil {
				opts.SessionStore = st
			}
			if opts.MemoryStore == nil {
				opts.MemoryStore = st
			}
		default:
			if opts.SessionStore == nil {
				opts.SessionStore = session.NewInMemoryStore()
			}
			if opts.MemoryStore == nil {
				opts.MemoryStore = memory.NewInMemoryStore()
			}
		}
	}

	if opts.Embedder == nil {
		opts.Embedder = NewEmbedder(cfg, logging.Component(logger, "embedder"))
	}
	if opts.Gateway == nil {
		opts.Gateway = NewGateway(cfg, logging.Component(logger, "gateway"))
	}
	if opts.Tools == nil {
		opts.Tools = NewTools(cfg, logging.Component(logger, "tools"))
	}

	store := persistence.New(opts.SessionStore, opts.MemoryStore, opts.Embedder, func(o *persistence.Options) {
		o.RecallLimit = cfg.Context.RecallLimit
		o.Logger = logging.Component(logger, "store")
	})

	models := cfg.Models.Keys()
	summaryRegistry := agent.NewRegistry(func(o *agent.Options) {
		o.Theme = cfg.Council.Theme
		o.Models = models
	})
	builder := contextbuilder.New(store, council.NewSummarizer(opts.Gateway, summaryRegistry), func(o *contextbuilder.Options) {
		o.Ceiling = cfg.Context.CeilingChars
		o.RecentMessages = cfg.Context.RecentMessages
		o.RecallLimit = cfg.Context.RecallLimit
		o.SummaryInterval = cfg.Context.SummaryInterval
		o.Logger = logging.Component(logger, "context")
	})

	c := council.New(opts.Gateway, builder, store, opts.Tools, func(o *council.Options) {
		o.Models = models
		o.DefaultTheme = cfg.Council.Theme
		o.TokenBudget = cfg.Budget.SessionTokens
		o.MaxRefinements = cfg.Council.MaxRefinements
		o.SlotTimeout = cfg.Council.SlotTimeout
		o.SkipArbiterMinChars = cfg.Council.SkipArbiterMinChars
		o.ContextCeiling = cfg.Context.CeilingChars
		o.Logger = logging.Component(logger, "council")
	})
	if err := c.Validate(); err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, fmt.Errorf("invalid agent registry: %w", err)
	}

	r := runner.New(c, func(o *runner.Options) {
		o.MaxConcurrentRuns = cfg.Server.MaxConcurrentRuns
		o.RunTimeout = cfg.Server.RunTimeout
		o.Logger = logging.Component(logger, "runner")
	})

	return &Council{cfg: cfg, store: store, council: c, runner: r, db: db, logger: logger}, nil
}

// NewGateway builds the model gateway for the configured providers.
// Anthropic serves structured models, OpenAI flexible ones; Azure, Gemini,
// xAI and Moonshot are reached through OpenAI-compatible endpoints under
// their routing prefixes.
func NewGateway(cfg *config.Config, logger logging.Logger) *model.Gateway {
	p := cfg.Providers
	prefixed := map[string]model.Model{}

	compatible := func(prefix, provider, key, baseURL string) {
		if key == "" || baseURL == "" {
			return
		}
		prefixed[prefix] = openai.NewModel(func(o *openai.Options) {
			o.APIKey, o.BaseURL, o.Provider = key, baseURL, provider
		})
	}
	compatible("gemini/", "gemini", p.GeminiAPIKey, p.GeminiBaseURL)
	compatible("xai/", "xai", p.XAIAPIKey, p.XAIBaseURL)
	compatible("moonshot/", "moonshot", p.MoonshotAPIKey, p.MoonshotBaseURL)
	if p.AzureAPIKey != "" && p.AzureAPIBase != "" {
		prefixed["azure/"] = openai.NewModel(func(o *openai.Options) {
			o.APIKey, o.AzureEndpoint, o.AzureAPIVersion, o.Provider = p.AzureAPIKey, p.AzureAPIBase, p.AzureAPIVersion, "azure"
		})
	}

	return model.NewGateway(func(o *model.Options) {
		if p.AnthropicAPIKey != "" {
			o.Structured = anthropic.NewModel(func(o *anthropic.Options) { o.APIKey = p.AnthropicAPIKey })
		}
		if p.OpenAIAPIKey != "" {
			o.Flexible = openai.NewModel(func(o *openai.Options) {
				o.APIKey, o.BaseURL = p.OpenAIAPIKey, p.OpenAIBaseURL
			})
		}
		o.Prefixed = prefixed
		o.MaxTokensPerCall = cfg.Budget.MaxTokensPerCall
		o.MaxRetries = p.MaxRetries
		o.RetryBaseDelay = p.RetryBaseDelay
		o.RequestsPerSecond = p.RequestsPerSecond
		o.Logger = logger
	})
}

// NewEmbedder returns the memory embedder: OpenAI embeddings when a key is
// configured, always backed by the deterministic hash fallback.
func NewEmbedder(cfg *config.Config, logger logging.Logger) memory.Embedder {
	var primary memory.Embedder
	if key := cfg.Providers.OpenAIAPIKey; key != "" {
		primary = openai.NewEmbedder(func(o *openai.EmbedderOptions) {
			o.APIKey, o.BaseURL = key, cfg.Providers.OpenAIBaseURL
			if cfg.Models.Embedding != "" {
				o.Model = cfg.Models.Embedding
			}
		})
	}
	return memory.NewFallbackEmbedder(primary, logger)
}

// NewTools builds the directive tools. Image generation needs an OpenAI key
// and video generation a job endpoint; missing ones report NOT_CONFIGURED.
func NewTools(cfg *config.Config, logger logging.Logger) *tool.Dispatcher {
	t := cfg.Tools
	fetcher := tool.NewFetcher(func(o *tool.FetcherOptions) {
		o.MaxChars = t.FetchMaxChars
		o.Timeout = t.FetchTimeout
		o.Logger = logger
	})

	d := &tool.Dispatcher{
		Search: tool.NewWebSearch(func(o *tool.WebSearchOptions) {
			o.BaseURL = t.SearchURL
			o.RequestsPerSecond = t.SearchRequestsPerSecond
			o.Logger = logger
		}),
		Fetch:  fetcher,
		GitHub: tool.NewGitHubFetcher(fetcher),
	}

	var backend tool.ImageBackend
	if key := cfg.Providers.OpenAIAPIKey; key != "" {
		backend = openai.NewImageGenerator(func(o *openai.ImageOptions) {
			o.APIKey, o.BaseURL = key, cfg.Providers.OpenAIBaseURL
			if cfg.Models.Image != "" {
				o.Model = cfg.Models.Image
			}
		})
	}
	d.Image = tool.NewImageGenerator(backend, logger)

	if t.VideoAPIURL != "" {
		d.Video = tool.NewVideoGenerator(func(o *tool.VideoOptions) {
			o.Endpoint, o.APIKey = t.VideoAPIURL, t.VideoAPIKey
			o.PollInterval, o.MaxPolls = t.VideoPollInterval, t.VideoMaxPolls
			o.Logger = logger
		})
	}

	if t.SandboxEnabled {
		if _, err := (code.Bubblewrap{}).Wrap(os.TempDir(), nil); err != nil {
			logger.Warn("Code sandbox refuses to run snippets until bwrap is installed", "error", err)
		}
		d.Code = code.NewSandboxExecutor(func(o *code.SandboxOptions) {
			o.Timeout = t.SandboxTimeout
			o.Logger = logger
		})
	}
	return d
}

// Run starts an asynchronous council turn returning its run id and event &
// error channels.
func (c *Council) Run(ctx context.Context, req Request) (string, <-chan core.Event, <-chan error, error) {
	return c.runner.Run(ctx, req)
}

// RunSync runs a turn to completion and returns its events.
func (c *Council) RunSync(ctx context.Context, req Request) ([]core.Event, error) {
	return c.runner.RunSync(ctx, req)
}

// Cancel stops a running turn.
func (c *Council) Cancel(runID string) error { return c.runner.Cancel(runID) }

// Store returns the persistence facade.
func (c *Council) Store() *persistence.Facade { return c.store }

// Runner returns the run supervisor.
func (c *Council) Runner() *runner.Runner { return c.runner }

// Config returns the configuration the council was built from.
func (c *Council) Config() *config.Config { return c.cfg }

// Close releases the database handle, if any.
func (c *Council) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
