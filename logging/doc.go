// Package logging provides a minimal logging interface and adapters for the council.
//
// The Logger interface defines the standard leveled methods (Debug, Info, Warn,
// Error) taking slog-style key/value pairs. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - CouncilLogger with component/session scoping and call helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	c, err := agentcouncil.New(func(o *agentcouncil.Options) { o.Logger = logger })
package logging
