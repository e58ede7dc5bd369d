// Package anthropic provides a model.Model adapter for the Anthropic Messages
// API, the structured (alternation-strict) provider family.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/model"
)

// Options configures the Anthropic model adapter.
type Options struct {
	// Model is used when a request does not name one.
	Model       string
	Temperature float64
	MaxTokens   int64
	APIKey      string
	// BaseURL overrides the API endpoint (proxies, tests).
	BaseURL string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client. SDK
// level retries are disabled; the gateway owns the retry policy.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       "claude-sonnet-4-5",
		Temperature: 0.7,
		MaxTokens:   4000,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	m := NewModel(optFns...)
	m.client = client
	return m
}

// Generate performs one non-streaming Messages call.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		resp, err := m.client.Messages.New(ctx, m.buildParams(req))
		if err != nil {
			errCh <- classify(err)
			return
		}

		var text strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				text.WriteString(block.AsText().Text)
			}
		}

		out <- model.Response{
			Text:         text.String(),
			FinishReason: finishReason(resp.StopReason),
			Tokens:       int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		}
	}()

	return out, errCh
}

func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	name := req.Model
	if name == "" {
		name = m.opts.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = m.opts.MaxTokens
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = m.opts.Temperature
	}

	// the gateway already normalized the sequence; this is a plain mapping
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == core.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(block))
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(name),
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
	}
	if strings.TrimSpace(req.System) != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	return params
}

func finishReason(r anthropic.StopReason) model.FinishReason {
	switch r {
	case anthropic.StopReasonMaxTokens:
		return model.FinishLength
	case "refusal":
		return model.FinishFiltered
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence, "":
		return model.FinishStop
	default:
		return model.FinishOther
	}
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return model.ClassifyStatus(apiErr.StatusCode, err.Error(), err)
	}
	return &model.Error{Kind: model.KindProviderError, Message: err.Error(), Err: err}
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:     m.opts.Model,
		Provider: "anthropic",
		Family:   model.FamilyStructured,
	}
}
