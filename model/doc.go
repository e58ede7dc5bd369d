// Package model defines the provider-agnostic abstractions and the Gateway
// used by the council to call remote language models.
//
// Core goals:
//   - Keep request/response shapes minimal and transport independent
//   - Resolve a model name to a provider family by naming convention
//   - Normalize message sequences for alternation-strict providers
//   - Transparently continue truncated output, retry on rate limits and
//     recover once from context overflow
//   - Surface failures as typed *Error values
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (model/anthropic, model/openai) implement the Model interface so
// the orchestration layer remains decoupled from vendor SDKs.
package model
