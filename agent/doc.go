// Package agent is the static registry of council roles. Each Definition
// binds a role to a display name, a model configuration key, a tier, a
// system prompt template and generation settings.
//
// Tiers:
//   - 1: the final arbiter (exactly one)
//   - 2: the main council (planner, implementer, reasoner, innovator)
//   - 3: support (summarizer)
//
// Display names depend on the active Theme; model names are resolved from a
// key table (MODEL_OPUS, MODEL_SONNET, ...) with per-tier fallback chains.
package agent
