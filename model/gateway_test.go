package model

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sleepRecorder captures retry delays without sleeping.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func newTestGateway(structured, flexible Model, rec *sleepRecorder) *Gateway {
	return NewGateway(func(o *Options) {
		o.Structured = structured
		o.Flexible = flexible
		if rec != nil {
			o.Sleep = rec.Sleep
		}
	})
}

func userMsg(s string) []Message { return []Message{{Role: core.RoleUser, Content: s}} }

func TestResolveFamily(t *testing.T) {
	tests := map[string]Family{
		"claude-sonnet-4-5":             FamilyStructured,
		"anthropic/claude-opus-4":       FamilyStructured,
		"gpt-4o":                        FamilyFlexible,
		"azure/gpt-4o":                  FamilyFlexible,
		"gemini/gemini-2.0-flash":       FamilyFlexible,
		"grok-4":                        FamilyFlexible,
		"moonshot/kimi-k2":              FamilyFlexible,
		"Claude-3-Haiku (experimental)": FamilyStructured,
	}
	for name, want := range tests {
		assert.Equal(t, want, ResolveFamily(name), name)
	}
}

func TestGateway_AutoContinue(t *testing.T) {
	m := NewMockModel("m", FamilyFlexible).Script(
		MockStep{Text: "part one ", Finish: FinishLength, Tokens: 10},
		MockStep{Text: "part two ", Finish: FinishLength, Tokens: 10},
		MockStep{Text: "end", Finish: FinishStop, Tokens: 5},
	)
	g := newTestGateway(nil, m, nil)

	res, err := g.Call(context.Background(), Target{Agent: "Implementer", Models: []string{"gpt-4o"}}, userMsg("write it"), 100)
	require.NoError(t, err)
	assert.Equal(t, "part one part two end", res.Text)
	assert.Equal(t, 2, res.Continuations)
	assert.Equal(t, 25, res.Tokens)
	assert.Equal(t, "gpt-4o", res.Model)

	calls := m.Calls()
	require.Len(t, calls, 3)
	last := calls[2].Messages
	require.Len(t, last, 3)
	assert.Equal(t, core.RoleAssistant, last[1].Role)
	assert.Equal(t, "part one part two ", last[1].Content)
	assert.Equal(t, ContinuePrompt, last[2].Content)
}

func TestGateway_AutoContinueCap(t *testing.T) {
	m := NewMockModel("m", FamilyFlexible).WithHandler(func(Request) (Response, error) {
		return Response{Text: "x", FinishReason: FinishLength, Tokens: 1}, nil
	})
	g := newTestGateway(nil, m, nil)

	res, err := g.Call(context.Background(), Target{Models: []string{"gpt-4o"}}, userMsg("go"), 100)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Continuations)
	assert.Equal(t, 6, m.CallCount())
	assert.Equal(t, "xxxxxx", res.Text)
}

func TestGateway_NoContinueOnFilter(t *testing.T) {
	m := NewMockModel("m", FamilyFlexible).Script(MockStep{Text: "partial", Finish: FinishFiltered})
	g := newTestGateway(nil, m, nil)

	res, err := g.Call(context.Background(), Target{Models: []string{"gpt-4o"}}, userMsg("go"), 100)
	require.NoError(t, err)
	assert.Equal(t, "partial", res.Text)
	assert.Equal(t, 1, m.CallCount())
}

func TestGateway_RateLimitedAfterThreeRetries(t *testing.T) {
	m := NewMockModel("m", FamilyFlexible).WithHandler(func(Request) (Response, error) {
		return Response{}, NewError(KindRateLimited, "429", "slow down")
	})
	rec := &sleepRecorder{}
	g := newTestGateway(nil, m, rec)

	_, err := g.Call(context.Background(), Target{Models: []string{"gpt-4o", "gpt-4o-mini"}}, userMsg("go"), 100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}, rec.delays)
	// initial attempt plus three retries, no fallthrough to the next candidate
	assert.Equal(t, 4, m.CallCount())
}

func TestGateway_RateLimitRecovers(t *testing.T) {
	m := NewMockModel("m", FamilyFlexible).Script(
		MockStep{Err: NewError(KindRateLimited, "429", "")},
		MockStep{Err: NewError(KindRateLimited, "429", "")},
		MockStep{Text: "ok"},
	)
	rec := &sleepRecorder{}
	g := newTestGateway(nil, m, rec)

	res, err := g.Call(context.Background(), Target{Models: []string{"gpt-4o"}}, userMsg("go"), 100)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, rec.delays)
}

func TestGateway_ContextTooLargeEmergencyTruncation(t *testing.T) {
	m := NewMockModel("m", FamilyFlexible).Script(
		MockStep{Err: NewError(KindContextTooLarge, "400", "maximum context length")},
		MockStep{Text: "fits now"},
	)
	g := newTestGateway(nil, m, nil)

	msgs := []Message{
		{Role: core.RoleSystem, Content: "memories"},
		{Role: core.RoleUser, Content: "old"},
		{Role: core.RoleAssistant, Content: "older answer"},
		{Role: core.RoleUser, Content: "latest"},
	}
	res, err := g.Call(context.Background(), Target{Models: []string{"gpt-4o"}}, msgs, 100)
	require.NoError(t, err)
	assert.Equal(t, "fits now", res.Text)

	calls := m.Calls()
	require.Len(t, calls, 2)
	require.Len(t, calls[1].Messages, 2)
	assert.Equal(t, "memories", calls[1].Messages[0].Content)
	assert.Equal(t, "latest", calls[1].Messages[1].Content)
}

func TestGateway_ContextTooLargeSurfacesAfterOneMitigation(t *testing.T) {
	m := NewMockModel("m", FamilyFlexible).WithHandler(func(Request) (Response, error) {
		return Response{}, NewError(KindContextTooLarge, "400", "too long")
	})
	g := newTestGateway(nil, m, nil)

	msgs := []Message{{Role: core.RoleUser, Content: "a"}, {Role: core.RoleAssistant, Content: "b"}, {Role: core.RoleUser, Content: "c"}}
	_, err := g.Call(context.Background(), Target{Models: []string{"gpt-4o", "gpt-4o-mini"}}, msgs, 100)
	assert.True(t, errors.Is(err, ErrContextTooLarge))
	assert.Equal(t, 2, m.CallCount())
}

func TestGateway_EmptyResponseFallsThrough(t *testing.T) {
	m := NewMockModel("m", FamilyFlexible).Script(
		MockStep{Text: "   "},
		MockStep{Text: "second candidate"},
	)
	g := newTestGateway(nil, m, nil)

	res, err := g.Call(context.Background(), Target{Models: []string{"gpt-4o", "gpt-4o-mini"}}, userMsg("go"), 100)
	require.NoError(t, err)
	assert.Equal(t, "second candidate", res.Text)
	assert.Equal(t, "gpt-4o-mini", res.Model)
}

func TestGateway_EmptyResponseTyped(t *testing.T) {
	m := NewMockModel("m", FamilyFlexible).Script(MockStep{Text: ""})
	g := newTestGateway(nil, m, nil)

	_, err := g.Call(context.Background(), Target{Models: []string{"gpt-4o"}}, userMsg("go"), 100)
	assert.True(t, errors.Is(err, ErrEmptyResponse))
}

func TestGateway_NotConfigured(t *testing.T) {
	flex := NewMockModel("m", FamilyFlexible)
	g := newTestGateway(nil, flex, nil)

	// structured candidate is skipped without a call, flexible one answers
	res, err := g.Call(context.Background(), Target{Models: []string{"claude-opus-4", "gpt-4o"}}, userMsg("hi"), 100)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", res.Model)

	_, err = g.Call(context.Background(), Target{Agent: "Arbiter", Models: []string{"claude-opus-4", "azure/gpt-4o"}}, userMsg("hi"), 100)
	assert.True(t, errors.Is(err, ErrNotConfigured))

	_, err = newTestGateway(nil, nil, nil).Call(context.Background(), Target{Agent: "Planner"}, userMsg("hi"), 100)
	assert.True(t, errors.Is(err, ErrNotConfigured))
	assert.False(t, g.Configured("claude-opus-4"))
	assert.True(t, g.Configured("gpt-4o"))
}

func TestGateway_StructuredRequestIsNormalized(t *testing.T) {
	structured := NewMockModel("s", FamilyStructured)
	g := newTestGateway(structured, nil, nil)

	msgs := []Message{
		{Role: core.RoleSystem, Content: "[SESSION SUMMARY] earlier"},
		{Role: core.RoleAssistant, Content: "[Planner]: plan"},
		{Role: core.RoleAssistant, Content: "[Critic]: ok"},
		{Role: core.RoleUser, Content: "now"},
	}
	_, err := g.Call(context.Background(), Target{Models: []string{"anthropic/claude-sonnet-4"}, System: "You plan."}, msgs, 9000)
	require.NoError(t, err)

	req := structured.Calls()[0]
	assert.Equal(t, "claude-sonnet-4", req.Model)
	assert.Equal(t, "You plan.\n\n[SESSION SUMMARY] earlier", req.System)
	assert.Equal(t, int64(4000), req.MaxTokens)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, core.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "[Planner]: plan\n\n[Critic]: ok", req.Messages[1].Content)
}

func TestGateway_PrefixedRouting(t *testing.T) {
	flex := NewMockModel("openai", FamilyFlexible)
	gemini := NewMockModel("gemini", FamilyFlexible)
	g := NewGateway(func(o *Options) {
		o.Flexible = flex
		o.Prefixed["gemini/"] = gemini
	})

	_, err := g.Call(context.Background(), Target{Models: []string{"gemini/gemini-2.0-flash"}}, userMsg("hi"), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, flex.CallCount())
	require.Equal(t, 1, gemini.CallCount())
	assert.Equal(t, "gemini-2.0-flash", gemini.Calls()[0].Model)
}

func TestGateway_ContextCancelled(t *testing.T) {
	m := NewMockModel("m", FamilyFlexible)
	g := newTestGateway(nil, m, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Call(ctx, Target{Models: []string{"gpt-4o", "gpt-4o-mini"}}, userMsg("hi"), 10)
	assert.ErrorIs(t, err, context.Canceled)
}
