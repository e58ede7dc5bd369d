package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/hupe1980/agentcouncil/logging"
	"github.com/hupe1980/agentcouncil/model"
)

// ImageBackend renders an image and returns its URL.
// *openai.ImageGenerator from model/openai satisfies it.
type ImageBackend interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ImageGenerator validates prompts and maps backend failures to ToolErrors.
type ImageGenerator struct {
	backend ImageBackend
	logger  logging.Logger
}

// NewImageGenerator creates an ImageGenerator. A nil backend reports
// NOT_CONFIGURED on every call.
func NewImageGenerator(backend ImageBackend, logger logging.Logger) *ImageGenerator {
	return &ImageGenerator{backend: backend, logger: logging.OrNoOp(logger)}
}

// Generate returns the URL of an image rendered from prompt.
func (g *ImageGenerator) Generate(ctx context.Context, prompt string) (link string, err error) {
	const name = "image_generation"
	if g.backend == nil {
		return "", NewToolError(name, "image generation requires an OpenAI API key", CodeNotConfigured)
	}
	if strings.TrimSpace(prompt) == "" {
		return "", NewToolError(name, "prompt is required", CodeValidation)
	}
	start := time.Now()
	defer func() { logging.LogToolCall(g.logger, name, time.Since(start), err == nil, err) }()

	link, err = g.backend.Generate(ctx, prompt)
	if err != nil {
		return "", backendError(ctx, name, err)
	}
	return link, nil
}

func backendError(ctx context.Context, name string, err error) error {
	switch {
	case model.IsKind(err, model.KindNotConfigured):
		return &ToolError{Tool: name, Message: err.Error(), Code: CodeNotConfigured}
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		return &ToolError{Tool: name, Message: err.Error(), Code: CodeTimeout}
	default:
		return &ToolError{Tool: name, Message: err.Error(), Code: CodeProviderError}
	}
}

// VideoOptions configures a VideoGenerator.
type VideoOptions struct {
	// Endpoint accepts POST {"prompt": ...} returning {"id": ...}; job status
	// is read from GET {Endpoint}/{id}.
	Endpoint     string
	APIKey       string
	PollInterval time.Duration
	MaxPolls     int
	// Timeout bounds the whole job including polling.
	Timeout time.Duration
	Client  *http.Client
	// Sleep waits between polls; tests replace it.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger logging.Logger
}

// VideoGenerator submits text-to-video jobs and polls them to completion.
type VideoGenerator struct {
	opts   VideoOptions
	client *http.Client
	logger logging.Logger
}

// NewVideoGenerator creates a VideoGenerator.
func NewVideoGenerator(optFns ...func(o *VideoOptions)) *VideoGenerator {
	opts := VideoOptions{
		PollInterval: 5 * time.Second,
		MaxPolls:     60,
		Timeout:      6 * time.Minute,
		Sleep:        sleepCtx,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &VideoGenerator{opts: opts, client: client, logger: logging.OrNoOp(opts.Logger)}
}

// Generate submits prompt and returns the finished video URL.
func (v *VideoGenerator) Generate(ctx context.Context, prompt string) (link string, err error) {
	const name = "video_generation"
	if v.opts.Endpoint == "" || v.opts.APIKey == "" {
		return "", NewToolError(name, "video generation requires an endpoint and API key", CodeNotConfigured)
	}
	if strings.TrimSpace(prompt) == "" {
		return "", NewToolError(name, "prompt is required", CodeValidation)
	}
	start := time.Now()
	defer func() { logging.LogToolCall(v.logger, name, time.Since(start), err == nil, err) }()

	ctx, cancel := context.WithTimeout(ctx, v.opts.Timeout)
	defer cancel()

	payload, _ := sjson.SetBytes([]byte(`{}`), "prompt", prompt)
	body, err := v.do(ctx, http.MethodPost, v.opts.Endpoint, payload)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return "", NewToolError(name, "job submission returned no id", CodeProviderError)
	}

	statusURL := strings.TrimRight(v.opts.Endpoint, "/") + "/" + id
	for poll := 0; poll < v.opts.MaxPolls; poll++ {
		if err := v.opts.Sleep(ctx, v.opts.PollInterval); err != nil {
			return "", NewToolError(name, "video job timed out", CodeTimeout)
		}
		body, err := v.do(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return "", err
		}
		switch status := strings.ToLower(gjson.GetBytes(body, "status").String()); status {
		case "succeeded", "completed", "done":
			if out := gjson.GetBytes(body, "output_url").String(); out != "" {
				return out, nil
			}
			return "", NewToolError(name, "job finished without output", CodeProviderError)
		case "failed", "error", "canceled", "cancelled":
			msg := gjson.GetBytes(body, "error").String()
			if msg == "" {
				msg = "job " + status
			}
			return "", NewToolError(name, msg, CodeExecution)
		}
	}
	return "", NewToolError(name, fmt.Sprintf("video not ready after %d polls", v.opts.MaxPolls), CodeTimeout)
}

func (v *VideoGenerator) do(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	const name = "video_generation"
	var body io.Reader
	if payload != nil {
		body = strings.NewReader(string(payload))
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, NewToolError(name, err.Error(), CodeValidation)
	}
	req.Header.Set("Authorization", "Bearer "+v.opts.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := v.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewToolError(name, "video job timed out", CodeTimeout)
		}
		return nil, NewToolError(name, err.Error(), CodeProviderError)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, NewToolError(name, err.Error(), CodeProviderError)
	}
	if resp.StatusCode >= 400 {
		return nil, NewToolError(name, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data))), CodeProviderError)
	}
	return data, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
