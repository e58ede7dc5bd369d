package model

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/logging"
	"golang.org/x/time/rate"
)

// ContinuePrompt asks a provider to resume output cut off by a length limit.
const ContinuePrompt = "Continue exactly where you left off. Do not repeat anything you already wrote."

// structuredHints select FamilyStructured by substring of the model name.
var structuredHints = []string{"claude", "anthropic/"}

// ResolveFamily maps a model name to its provider family by naming
// convention. It never performs I/O.
func ResolveFamily(modelName string) Family {
	name := strings.ToLower(modelName)
	for _, h := range structuredHints {
		if strings.Contains(name, h) {
			return FamilyStructured
		}
	}
	return FamilyFlexible
}

// Target describes who is being called: a display label, the ordered model
// candidates and the generation settings.
type Target struct {
	Agent       string
	Models      []string
	System      string
	Temperature float64
}

// Result is the logical response of a gateway call.
type Result struct {
	Text          string
	Tokens        int
	Model         string // model that produced Text
	Continuations int    // number of auto-continue re-invocations
}

// Options configures a Gateway.
type Options struct {
	// Structured serves FamilyStructured models without a routing prefix.
	Structured Model
	// Flexible serves FamilyFlexible models without a routing prefix.
	Flexible Model
	// Prefixed routes models by prefix (e.g. "azure/", "gemini/") to a
	// dedicated adapter. The prefix is removed before the call.
	Prefixed map[string]Model

	// MaxTokensPerCall caps the output tokens of one provider call.
	MaxTokensPerCall int64
	// MaxContinuations bounds auto-continue re-invocations.
	MaxContinuations int
	// MaxRetries bounds rate-limit retries.
	MaxRetries int
	// RetryBaseDelay is multiplied by the attempt number (5s, 10s, 15s).
	RetryBaseDelay time.Duration
	// RequestsPerSecond limits outbound calls per family; 0 disables limiting.
	RequestsPerSecond float64
	// Sleep waits between retries; replaceable in tests.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger logging.Logger
}

// Gateway is the uniform entry point for calling remote models.
type Gateway struct {
	opts     Options
	limiters map[Family]*rate.Limiter
	logger   logging.Logger
}

// NewGateway creates a Gateway with sensible defaults.
func NewGateway(optFns ...func(o *Options)) *Gateway {
	opts := Options{
		Prefixed:         map[string]Model{},
		MaxTokensPerCall: 4000,
		MaxContinuations: 5,
		MaxRetries:       3,
		RetryBaseDelay:   5 * time.Second,
		Sleep:            sleepContext,
		Logger:           logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	g := &Gateway{opts: opts, limiters: map[Family]*rate.Limiter{}, logger: logging.OrNoOp(opts.Logger)}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 2 {
			burst = 2
		}
		for _, f := range []Family{FamilyStructured, FamilyFlexible} {
			g.limiters[f] = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
		}
	}

	return g
}

// Configured reports whether a model name resolves to a registered adapter.
func (g *Gateway) Configured(modelName string) bool {
	_, _, _, err := g.resolve(modelName)
	return err == nil
}

// Call sends a conversation to the first usable candidate in t.Models.
//
// Unconfigured candidates are skipped without network I/O. Provider errors and
// empty responses advance to the next candidate. Rate limiting (after the
// retry policy) and context overflow (after one emergency truncation) are
// returned immediately.
func (g *Gateway) Call(ctx context.Context, t Target, msgs []Message, maxTokens int64) (Result, error) {
	if maxTokens <= 0 || (g.opts.MaxTokensPerCall > 0 && maxTokens > g.opts.MaxTokensPerCall) {
		maxTokens = g.opts.MaxTokensPerCall
	}

	var lastErr error
	for _, name := range t.Models {
		if strings.TrimSpace(name) == "" {
			continue
		}

		m, family, local, err := g.resolve(name)
		if err != nil {
			// a real provider failure outranks a skipped candidate
			if lastErr == nil || IsKind(lastErr, KindNotConfigured) {
				lastErr = err
			}
			continue
		}

		start := time.Now()
		res, err := g.callModel(ctx, m, family, local, t, msgs, maxTokens)
		logging.LogLLMCall(g.logger, name, res.Tokens, time.Since(start), err == nil, err)
		if err == nil {
			res.Model = name
			return res, nil
		}

		lastErr = withModel(err, name)
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		switch KindOf(lastErr) {
		case KindRateLimited, KindContextTooLarge:
			return Result{}, lastErr
		}
		g.logger.Warn("model candidate failed, trying next", "agent", t.Agent, "model", name, "error", lastErr)
	}

	if lastErr == nil {
		lastErr = NewError(KindNotConfigured, "", "no model configured for "+t.Agent)
	}

	return Result{}, lastErr
}

func (g *Gateway) resolve(name string) (Model, Family, string, error) {
	family := ResolveFamily(name)
	prefix, local := splitPrefix(name)

	if prefix != "" {
		if m, ok := g.opts.Prefixed[prefix]; ok && m != nil {
			return m, family, local, nil
		}
		if prefix != "anthropic/" && prefix != "openai/" {
			return nil, family, "", &Error{Kind: KindNotConfigured, Model: name, Message: "no provider configured for prefix " + prefix}
		}
	}

	var m Model
	if family == FamilyStructured {
		m = g.opts.Structured
	} else {
		m = g.opts.Flexible
	}
	if m == nil {
		return nil, family, "", &Error{Kind: KindNotConfigured, Model: name, Message: "no " + string(family) + " provider configured"}
	}

	return m, family, local, nil
}

func splitPrefix(name string) (string, string) {
	i := strings.Index(name, "/")
	if i <= 0 {
		return "", name
	}
	return name[:i+1], name[i+1:]
}

// callModel runs one candidate with the continue, retry and emergency
// truncation policies.
func (g *Gateway) callModel(ctx context.Context, m Model, family Family, local string, t Target, msgs []Message, maxTokens int64) (Result, error) {
	base := append([]Message(nil), msgs...)
	truncated := false

	var (
		out    strings.Builder
		tokens int
		cont   int
	)

	for {
		req := g.buildRequest(family, local, t, base, out.String(), maxTokens)

		resp, err := g.generateWithRetry(ctx, m, family, req)
		if err != nil {
			if IsKind(err, KindContextTooLarge) && !truncated && len(base) > 2 {
				truncated = true
				base = EmergencyTruncate(base)
				g.logger.Warn("context too large, retrying with emergency truncation", "agent", t.Agent, "model", local)
				continue
			}
			return Result{Tokens: tokens}, err
		}

		if resp.Tokens > 0 {
			tokens += resp.Tokens
		} else {
			tokens += estimateTokens(req, resp.Text)
		}
		out.WriteString(resp.Text)

		if resp.FinishReason != FinishLength || cont >= g.opts.MaxContinuations {
			break
		}
		cont++
		g.logger.Debug("output truncated by length limit, continuing", "agent", t.Agent, "model", local, "continuation", cont)
	}

	text := strings.TrimSpace(out.String())
	if text == "" {
		return Result{Tokens: tokens}, NewError(KindEmptyResponse, "", "provider returned no text")
	}

	return Result{Text: text, Tokens: tokens, Continuations: cont}, nil
}

// buildRequest shapes the provider request. When partial output exists it is
// appended as an assistant turn followed by the continue instruction.
func (g *Gateway) buildRequest(family Family, local string, t Target, base []Message, partial string, maxTokens int64) Request {
	msgs := append([]Message(nil), base...)
	if partial != "" {
		msgs = append(msgs,
			Message{Role: core.RoleAssistant, Content: partial},
			Message{Role: core.RoleUser, Content: ContinuePrompt},
		)
	}

	req := Request{Model: local, System: t.System, MaxTokens: maxTokens, Temperature: t.Temperature}
	if family == FamilyStructured {
		req.System, req.Messages = Normalize(t.System, msgs)
	} else {
		req.Messages = Compact(msgs)
	}

	return req
}

func (g *Gateway) generateWithRetry(ctx context.Context, m Model, family Family, req Request) (Response, error) {
	for attempt := 0; ; attempt++ {
		if l := g.limiters[family]; l != nil {
			if err := l.Wait(ctx); err != nil {
				return Response{}, err
			}
		}

		respCh, errCh := m.Generate(ctx, req)
		resp, err := Collect(ctx, respCh, errCh)
		if err == nil {
			return resp, nil
		}

		var typed *Error
		if !errors.As(err, &typed) {
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			err = &Error{Kind: KindProviderError, Message: err.Error(), Err: err}
		}

		if !Retryable(err) || attempt >= g.opts.MaxRetries {
			return Response{}, err
		}

		delay := time.Duration(attempt+1) * g.opts.RetryBaseDelay
		g.logger.Warn("rate limited, backing off", "model", req.Model, "attempt", attempt+1, "delay", delay)
		if err := g.opts.Sleep(ctx, delay); err != nil {
			return Response{}, err
		}
	}
}

// estimateTokens approximates usage at four characters per token when the
// provider reports none.
func estimateTokens(req Request, text string) int {
	chars := len(req.System) + len(text)
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	return chars / 4
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
