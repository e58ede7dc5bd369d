// Package config loads the council configuration.
//
// Values are layered in a fixed order: built-in defaults, the TOML file, a
// .env file (which never overrides variables already set) and finally the
// process environment. Validate reports every problem at once.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hupe1980/agentcouncil/agent"
	"github.com/hupe1980/agentcouncil/logging"
)

// Config is the complete council configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Models    ModelsConfig    `toml:"models"`
	Providers ProvidersConfig `toml:"providers"`
	Budget    BudgetConfig    `toml:"budget"`
	Context   ContextConfig   `toml:"context"`
	Council   CouncilConfig   `toml:"council"`
	Tools     ToolsConfig     `toml:"tools"`
	Store     StoreConfig     `toml:"store"`
	Log       LogConfig       `toml:"log"`
}

// ServerConfig configures the HTTP and WebSocket endpoint.
type ServerConfig struct {
	Addr string `toml:"addr"`
	// RequestsPerSecond and Burst bound council runs per client.
	RequestsPerSecond float64       `toml:"requests_per_second"`
	Burst             int           `toml:"burst"`
	MaxConcurrentRuns int           `toml:"max_concurrent_runs"`
	RunTimeout        time.Duration `toml:"run_timeout"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout"`
}

// ModelsConfig maps council model keys to routable model names such as
// "claude-sonnet-4", "gpt-4o" or "gemini/gemini-2.0-flash".
type ModelsConfig struct {
	Opus      string `toml:"opus"`
	Sonnet    string `toml:"sonnet"`
	GPT       string `toml:"gpt"`
	Grok      string `toml:"grok"`
	Kimi      string `toml:"kimi"`
	Gemini    string `toml:"gemini"`
	Haiku     string `toml:"haiku"`
	Embedding string `toml:"embedding"`
	Image     string `toml:"image"`
}

// Keys returns the configured models by MODEL_* key.
func (m ModelsConfig) Keys() map[string]string {
	out := map[string]string{}
	for k, v := range map[string]string{
		agent.KeyOpus:   m.Opus,
		agent.KeySonnet: m.Sonnet,
		agent.KeyGPT:    m.GPT,
		agent.KeyGrok:   m.Grok,
		agent.KeyKimi:   m.Kimi,
		agent.KeyGemini: m.Gemini,
		agent.KeyHaiku:  m.Haiku,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// ProvidersConfig holds provider credentials and endpoints.
type ProvidersConfig struct {
	AnthropicAPIKey string `toml:"anthropic_api_key"`
	OpenAIAPIKey    string `toml:"openai_api_key"`
	OpenAIBaseURL   string `toml:"openai_base_url"`
	AzureAPIKey     string `toml:"azure_api_key"`
	AzureAPIBase    string `toml:"azure_api_base"`
	AzureAPIVersion string `toml:"azure_api_version"`
	GeminiAPIKey    string `toml:"gemini_api_key"`
	GeminiBaseURL   string `toml:"gemini_base_url"`
	XAIAPIKey       string `toml:"xai_api_key"`
	XAIBaseURL      string `toml:"xai_base_url"`
	MoonshotAPIKey  string `toml:"moonshot_api_key"`
	MoonshotBaseURL string `toml:"moonshot_base_url"`

	RequestsPerSecond float64       `toml:"requests_per_second"`
	MaxRetries        int           `toml:"max_retries"`
	RetryBaseDelay    time.Duration `toml:"retry_base_delay"`
}

// BudgetConfig bounds token usage.
type BudgetConfig struct {
	SessionTokens    int   `toml:"session_tokens"`
	MaxTokensPerCall int64 `toml:"max_tokens_per_call"`
}

// ContextConfig bounds the context handed to agents.
type ContextConfig struct {
	CeilingChars    int `toml:"ceiling_chars"`
	RecentMessages  int `toml:"recent_messages"`
	RecallLimit     int `toml:"recall_limit"`
	SummaryInterval int `toml:"summary_interval"`
}

// CouncilConfig tunes the deliberation.
type CouncilConfig struct {
	Theme               string        `toml:"theme"`
	MaxRefinements      int           `toml:"max_refinements"`
	SlotTimeout         time.Duration `toml:"slot_timeout"`
	SkipArbiterMinChars int           `toml:"skip_arbiter_min_chars"`
}

// ToolsConfig configures the side-effect tools.
type ToolsConfig struct {
	SearchURL               string        `toml:"search_url"`
	SearchRequestsPerSecond float64       `toml:"search_requests_per_second"`
	FetchMaxChars           int           `toml:"fetch_max_chars"`
	FetchTimeout            time.Duration `toml:"fetch_timeout"`
	SandboxEnabled          bool          `toml:"sandbox_enabled"`
	SandboxTimeout          time.Duration `toml:"sandbox_timeout"`
	VideoAPIURL             string        `toml:"video_api_url"`
	VideoAPIKey             string        `toml:"video_api_key"`
	VideoPollInterval       time.Duration `toml:"video_poll_interval"`
	VideoMaxPolls           int           `toml:"video_max_polls"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `toml:"backend"` // memory or sqlite
	DBPath  string `toml:"db_path"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text or json
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			RequestsPerSecond: 0.5,
			Burst:             3,
			MaxConcurrentRuns: 10,
			RunTimeout:        15 * time.Minute,
			ShutdownTimeout:   10 * time.Second,
		},
		Models: ModelsConfig{
			Embedding: "text-embedding-3-small",
			Image:     "dall-e-3",
		},
		Providers: ProvidersConfig{
			AzureAPIVersion: "2024-10-21",
			GeminiBaseURL:   "https://generativelanguage.googleapis.com/v1beta/openai/",
			XAIBaseURL:      "https://api.x.ai/v1",
			MoonshotBaseURL: "https://api.moonshot.ai/v1",
			MaxRetries:      3,
			RetryBaseDelay:  5 * time.Second,
		},
		Budget: BudgetConfig{
			SessionTokens:    15000,
			MaxTokensPerCall: 4000,
		},
		Context: ContextConfig{
			CeilingChars:    24000,
			RecentMessages:  16,
			RecallLimit:     3,
			SummaryInterval: 10,
		},
		Council: CouncilConfig{
			Theme:               string(agent.DefaultTheme),
			MaxRefinements:      3,
			SlotTimeout:         180 * time.Second,
			SkipArbiterMinChars: 200,
		},
		Tools: ToolsConfig{
			SearchURL:               "https://html.duckduckgo.com/html/",
			SearchRequestsPerSecond: 1,
			FetchMaxChars:           5000,
			FetchTimeout:            15 * time.Second,
			SandboxEnabled:          true,
			SandboxTimeout:          10 * time.Second,
			VideoPollInterval:       5 * time.Second,
			VideoMaxPolls:           60,
		},
		Store: StoreConfig{Backend: "memory"},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration from defaults, the TOML file at path (if
// any), the .env file at dotEnv (if any) and the environment, then
// validates it.
func Load(path, dotEnv string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if dotEnv != "" {
		if err := LoadDotEnv(dotEnv); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv exports KEY=VALUE lines from path. Variables that are already
// set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return scanner.Err()
}

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported variables:
//   - SESSION_TOKEN_BUDGET, MAX_TOKENS_PER_CALL
//   - MODEL_OPUS, MODEL_SONNET, MODEL_GPT, MODEL_GROK, MODEL_KIMI,
//     MODEL_GEMINI, MODEL_HAIKU, MODEL_EMBEDDING
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, AZURE_API_KEY, AZURE_API_BASE,
//     AZURE_API_VERSION, GEMINI_API_KEY, XAI_API_KEY, MOONSHOT_API_KEY
//   - COUNCIL_DB_PATH (selects the sqlite backend), COUNCIL_HTTP_ADDR
//   - VIDEO_API_URL, VIDEO_API_KEY
//   - COUNCIL_LOG_LEVEL, COUNCIL_THEME
func (c *Config) ApplyEnvOverrides() {
	setInt := func(key string, dst *int) {
		if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
			*dst = v
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setInt("SESSION_TOKEN_BUDGET", &c.Budget.SessionTokens)
	if v, err := strconv.ParseInt(os.Getenv("MAX_TOKENS_PER_CALL"), 10, 64); err == nil {
		c.Budget.MaxTokensPerCall = v
	}

	setString("MODEL_OPUS", &c.Models.Opus)
	setString("MODEL_SONNET", &c.Models.Sonnet)
	setString("MODEL_GPT", &c.Models.GPT)
	setString("MODEL_GROK", &c.Models.Grok)
	setString("MODEL_KIMI", &c.Models.Kimi)
	setString("MODEL_GEMINI", &c.Models.Gemini)
	setString("MODEL_HAIKU", &c.Models.Haiku)
	setString("MODEL_EMBEDDING", &c.Models.Embedding)

	setString("ANTHROPIC_API_KEY", &c.Providers.AnthropicAPIKey)
	setString("OPENAI_API_KEY", &c.Providers.OpenAIAPIKey)
	setString("AZURE_API_KEY", &c.Providers.AzureAPIKey)
	setString("AZURE_API_BASE", &c.Providers.AzureAPIBase)
	setString("AZURE_API_VERSION", &c.Providers.AzureAPIVersion)
	setString("GEMINI_API_KEY", &c.Providers.GeminiAPIKey)
	setString("XAI_API_KEY", &c.Providers.XAIAPIKey)
	setString("MOONSHOT_API_KEY", &c.Providers.MoonshotAPIKey)

	if v := os.Getenv("COUNCIL_DB_PATH"); v != "" {
		c.Store.Backend, c.Store.DBPath = "sqlite", v
	}
	setString("COUNCIL_HTTP_ADDR", &c.Server.Addr)
	setString("VIDEO_API_URL", &c.Tools.VideoAPIURL)
	setString("VIDEO_API_KEY", &c.Tools.VideoAPIKey)
	setString("COUNCIL_LOG_LEVEL", &c.Log.Level)
	setString("COUNCIL_THEME", &c.Council.Theme)
}

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration and returns every problem joined.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, field, format string, args ...any) {
		if !ok {
			errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
		}
	}

	check(c.Server.Addr != "", "server.addr", "must not be empty")
	check(c.Server.RequestsPerSecond >= 0, "server.requests_per_second", "must not be negative")
	check(c.Server.MaxConcurrentRuns >= 0, "server.max_concurrent_runs", "must not be negative")

	check(c.Budget.SessionTokens > 0, "budget.session_tokens", "must be positive, got %d", c.Budget.SessionTokens)
	check(c.Budget.MaxTokensPerCall > 0, "budget.max_tokens_per_call", "must be positive, got %d", c.Budget.MaxTokensPerCall)

	check(c.Providers.MaxRetries >= 0, "providers.max_retries", "must not be negative")
	check(c.Providers.RequestsPerSecond >= 0, "providers.requests_per_second", "must not be negative")

	check(c.Context.CeilingChars >= 1000, "context.ceiling_chars", "must be at least 1000, got %d", c.Context.CeilingChars)
	check(c.Context.RecallLimit >= 0 && c.Context.RecallLimit <= 5, "context.recall_limit", "must be between 0 and 5, got %d", c.Context.RecallLimit)
	check(c.Context.RecentMessages >= 0, "context.recent_messages", "must not be negative")

	check(c.Council.MaxRefinements >= 0 && c.Council.MaxRefinements <= 10, "council.max_refinements", "must be between 0 and 10, got %d", c.Council.MaxRefinements)
	check(c.Council.SlotTimeout > 0, "council.slot_timeout", "must be positive")
	check(knownTheme(c.Council.Theme), "council.theme", "unknown theme %q", c.Council.Theme)

	check(c.Tools.FetchMaxChars > 0, "tools.fetch_max_chars", "must be positive")
	check(c.Tools.VideoMaxPolls > 0, "tools.video_max_polls", "must be positive")

	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		check(c.Store.DBPath != "", "store.db_path", "required for the sqlite backend")
	default:
		check(false, "store.backend", "must be memory or sqlite, got %q", c.Store.Backend)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		check(false, "log.level", "unknown level %q", c.Log.Level)
	}
	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format", "must be text or json, got %q", c.Log.Format)

	return errors.Join(errs...)
}

func knownTheme(name string) bool {
	for _, t := range agent.Themes() {
		if strings.EqualFold(string(t), name) {
			return true
		}
	}
	return false
}

// Logger builds the structured logger described by the log section.
func (c *Config) Logger() *logging.CouncilLogger {
	return logging.NewSlogLogger(logging.ParseLevel(c.Log.Level), c.Log.Format, false)
}
