package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a case-insensitive level name to a LogLevel. Unknown names
// yield LogLevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Logger defines the minimal logging interface. Args are slog-style
// alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// CouncilLogger wraps slog.Logger adding contextual cloning helpers and
// domain convenience methods. It is cheap to copy via With* methods.
type CouncilLogger struct {
	logger    *slog.Logger
	level     LogLevel
	attrs     map[string]any
	component string
	sessionID string
	runID     string
}

// LoggerConfig configures construction of a CouncilLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout}
}

// NewLogger builds a CouncilLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *CouncilLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return &CouncilLogger{logger: slog.New(handler), level: cfg.Level, attrs: map[string]any{}, component: cfg.Component}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *CouncilLogger) clone() *CouncilLogger {
	nl := *l
	nl.attrs = make(map[string]any, len(l.attrs))
	for k, v := range l.attrs {
		nl.attrs[k] = v
	}
	return &nl
}

// With adds a key/value attribute that will be attached to every log entry.
func (l *CouncilLogger) With(key string, value any) *CouncilLogger {
	nl := l.clone()
	nl.attrs[key] = value
	return nl
}

// WithComponent sets the logical component (gateway, council, store, etc.).
func (l *CouncilLogger) WithComponent(c string) *CouncilLogger {
	nl := l.clone()
	nl.component = c
	return nl
}

// WithSession attaches session and run identifiers.
func (l *CouncilLogger) WithSession(sessionID, runID string) *CouncilLogger {
	nl := l.clone()
	nl.sessionID = sessionID
	nl.runID = runID
	return nl
}

func (l *CouncilLogger) buildAttrs(args []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(l.attrs)+len(args)/2+3)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if l.sessionID != "" {
		attrs = append(attrs, slog.String("session_id", l.sessionID))
	}
	if l.runID != "" {
		attrs = append(attrs, slog.String("run_id", l.runID))
	}
	for k, v := range l.attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok || i+1 >= len(args) {
			attrs = append(attrs, slog.Any("!BADKEY", args[i]))
			continue
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return attrs
}

func (l *CouncilLogger) log(level LogLevel, msg string, args ...any) {
	if level < l.level {
		return
	}
	l.logger.LogAttrs(context.Background(), slogLevel(level), msg, l.buildAttrs(args)...)
}

// Debug logs at debug level.
func (l *CouncilLogger) Debug(msg string, args ...any) { l.log(LogLevelDebug, msg, args...) }

// Info logs at info level.
func (l *CouncilLogger) Info(msg string, args ...any) { l.log(LogLevelInfo, msg, args...) }

// Warn logs at warn level.
func (l *CouncilLogger) Warn(msg string, args ...any) { l.log(LogLevelWarn, msg, args...) }

// Error logs at error level.
func (l *CouncilLogger) Error(msg string, args ...any) { l.log(LogLevelError, msg, args...) }

// LogToolCall records execution details for a tool invocation.
func (l *CouncilLogger) LogToolCall(tool string, dur time.Duration, success bool, err error) {
	LogToolCall(l, tool, dur, success, err)
}

// LogLLMCall records model call latency, token usage and success.
func (l *CouncilLogger) LogLLMCall(model string, tokens int, dur time.Duration, success bool, err error) {
	LogLLMCall(l, model, tokens, dur, success, err)
}

// LogToolCall records a tool invocation on any Logger.
func LogToolCall(l Logger, tool string, dur time.Duration, success bool, err error) {
	args := []any{"tool_name", tool, "duration", dur, "success", success}
	if err != nil {
		args = append(args, "error", err.Error())
	}
	if !success {
		l.Warn("Tool execution failed", args...)
		return
	}
	l.Info("Tool execution completed", args...)
}

// LogLLMCall records a model call on any Logger.
func LogLLMCall(l Logger, model string, tokens int, dur time.Duration, success bool, err error) {
	args := []any{"model", model, "token_count", tokens, "duration", dur, "success", success}
	if err != nil {
		args = append(args, "error", err.Error())
	}
	if !success {
		l.Warn("LLM call failed", args...)
		return
	}
	l.Info("LLM call completed", args...)
}

// LogPhase records a council state transition.
func (l *CouncilLogger) LogPhase(runID, from, to string) {
	LogPhase(l, runID, from, to)
}

// LogPhase records a council state transition on any Logger.
func LogPhase(l Logger, runID, from, to string) {
	l.Debug("Council state transition", "run_id", runID, "from", from, "to", to)
}

// prefixed adds fixed key/value pairs to every entry of a plain Logger.
type prefixed struct {
	Logger
	args []any
}

func (p prefixed) with(args []any) []any {
	return append(append(make([]any, 0, len(p.args)+len(args)), p.args...), args...)
}

func (p prefixed) Debug(msg string, args ...any) { p.Logger.Debug(msg, p.with(args)...) }
func (p prefixed) Info(msg string, args ...any)  { p.Logger.Info(msg, p.with(args)...) }
func (p prefixed) Warn(msg string, args ...any)  { p.Logger.Warn(msg, p.with(args)...) }
func (p prefixed) Error(msg string, args ...any) { p.Logger.Error(msg, p.with(args)...) }

// Component tags every entry of l with a component name.
func Component(l Logger, name string) Logger {
	switch v := l.(type) {
	case nil, NoOpLogger:
		return NoOpLogger{}
	case *CouncilLogger:
		return v.WithComponent(name)
	default:
		return prefixed{Logger: l, args: []any{"component", name}}
	}
}

// ForRun tags every entry of l with a session and run id.
func ForRun(l Logger, sessionID, runID string) Logger {
	switch v := l.(type) {
	case nil, NoOpLogger:
		return NoOpLogger{}
	case *CouncilLogger:
		return v.WithSession(sessionID, runID)
	default:
		return prefixed{Logger: l, args: []any{"session_id", sessionID, "run_id", runID}}
	}
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// OrNoOp returns l, or a NoOpLogger when l is nil.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}

// NewSlogLogger creates a new CouncilLogger with the specified configuration.
func NewSlogLogger(level LogLevel, format string, addSource bool) *CouncilLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}
