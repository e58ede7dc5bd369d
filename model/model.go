package model

import (
	"context"

	"github.com/hupe1980/agentcouncil/core"
)

// Family groups providers by their conversation shape.
type Family string

const (
	// FamilyStructured requires strict user/assistant alternation and a
	// separate system prompt field (Anthropic Messages style).
	FamilyStructured Family = "structured"
	// FamilyFlexible accepts an inline system role and arbitrary role runs
	// (OpenAI Chat Completions style).
	FamilyFlexible Family = "flexible"
)

// FinishReason reports why a provider stopped generating.
type FinishReason string

const (
	// FinishStop is a natural end of output.
	FinishStop FinishReason = "stop"
	// FinishLength means the output was cut off by a length limit.
	FinishLength FinishReason = "length"
	// FinishFiltered means the provider withheld content.
	FinishFiltered FinishReason = "content_filter"
	// FinishOther covers every other termination (tool use, refusal, ...).
	FinishOther FinishReason = "other"
)

// Message is one conversation entry sent to a provider.
type Message struct {
	Role    core.Role `json:"role"`
	Content string    `json:"content"`
}

// Request captures the normalized model input for a single provider call.
type Request struct {
	Model       string    `json:"model"` // provider-local model name (routing prefix removed)
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int64     `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

// Response is the final output of a provider call.
type Response struct {
	Text         string       `json:"text"`
	FinishReason FinishReason `json:"finish_reason"`
	Tokens       int          `json:"tokens"` // total tokens reported by the provider, 0 if unknown
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "azure", "gemini", ...
	Family   Family `json:"family"`
}

// Model is the minimal interface a provider adapter implements. Generate
// delivers exactly one Response or one error; both channels are closed when
// the call ends.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Collect drains the channels returned by Generate into a single result.
func Collect(ctx context.Context, respCh <-chan Response, errCh <-chan error) (Response, error) {
	var (
		resp Response
		got  bool
	)
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			resp, got = r, true
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}
	if !got {
		return Response{}, NewError(KindEmptyResponse, "", "provider returned no response")
	}
	return resp, nil
}
