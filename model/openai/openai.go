// Package openai provides model.Model adapters for the OpenAI Chat Completions
// API, the flexible provider family. The same adapter serves Azure OpenAI and
// OpenAI-compatible endpoints (Gemini, xAI, Moonshot) through base URL and
// Azure options. Embeddings and image generation live alongside.
package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
)

// Options configure the OpenAI model adapter.
type Options struct {
	// Model is used when a request does not name one.
	Model       string
	Temperature float64
	// MaxCompletionTokens is the default output cap.
	MaxCompletionTokens int64
	APIKey              string
	// BaseURL points the client at an OpenAI-compatible endpoint.
	BaseURL string
	// AzureEndpoint switches the client to Azure OpenAI when set.
	AzureEndpoint   string
	AzureAPIVersion string
	// Provider labels the adapter in Info ("openai", "azure", "gemini", ...).
	Provider string
	// LegacyMaxTokens sends max_tokens instead of max_completion_tokens for
	// compatible endpoints that do not know the newer field.
	LegacyMaxTokens bool
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4o,
		Temperature:         0.7,
		MaxCompletionTokens: 4000,
		Provider:            "openai",
	}
}

// NewModel creates a new OpenAI model using the official client. SDK level
// retries are disabled; the gateway owns the retry policy.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	client := openai.NewClient(clientOptions(opts)...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func clientOptions(opts Options) []option.RequestOption {
	out := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.AzureEndpoint != "" {
		out = append(out, azure.WithEndpoint(opts.AzureEndpoint, opts.AzureAPIVersion))
		if opts.APIKey != "" {
			out = append(out, azure.WithAPIKey(opts.APIKey))
		}
		return out
	}
	if opts.APIKey != "" {
		out = append(out, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		out = append(out, option.WithBaseURL(opts.BaseURL))
	}
	return out
}

// Generate performs one non-streaming chat completion.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		resp, err := m.client.Chat.Completions.New(ctx, m.buildParams(req))
		if err != nil {
			errCh <- classify(err)
			return
		}
		if len(resp.Choices) == 0 {
			errCh <- model.NewError(model.KindEmptyResponse, "", "no choices returned")
			return
		}

		ch0 := resp.Choices[0]
		out <- model.Response{
			Text:         ch0.Message.Content,
			FinishReason: finishReason(ch0.FinishReason),
			Tokens:       int(resp.Usage.TotalTokens),
		}
	}()

	return out, errCh
}

// buildMessages keeps roles as given; system text goes first inline.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case core.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	return messages
}

func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	name := req.Model
	if name == "" {
		name = m.opts.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = m.opts.MaxCompletionTokens
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = m.opts.Temperature
	}

	params := openai.ChatCompletionNewParams{
		Messages:    buildMessages(req),
		Model:       name,
		Temperature: openai.Float(temperature),
	}
	if m.opts.LegacyMaxTokens {
		params.MaxTokens = openai.Int(maxTokens)
	} else {
		params.MaxCompletionTokens = openai.Int(maxTokens)
	}

	return params
}

func finishReason(r string) model.FinishReason {
	switch r {
	case "length":
		return model.FinishLength
	case "content_filter":
		return model.FinishFiltered
	case "stop", "":
		return model.FinishStop
	default:
		return model.FinishOther
	}
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return model.ClassifyStatus(apiErr.StatusCode, err.Error(), err)
	}
	return &model.Error{Kind: model.KindProviderError, Message: err.Error(), Err: err}
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:     m.opts.Model,
		Provider: m.opts.Provider,
		Family:   model.FamilyFlexible,
	}
}
