package council_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/agentcouncil/agent"
	"github.com/hupe1980/agentcouncil/contextbuilder"
	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/council"
	"github.com/hupe1980/agentcouncil/internal/testutil"
	"github.com/hupe1980/agentcouncil/memory"
	"github.com/hupe1980/agentcouncil/model"
	"github.com/hupe1980/agentcouncil/persistence"
	"github.com/hupe1980/agentcouncil/session"
	"github.com/hupe1980/agentcouncil/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roleScript func(n int, req model.Request) (model.Response, error)

func say(text string) roleScript {
	return func(int, model.Request) (model.Response, error) {
		return model.Response{Text: text, FinishReason: model.FinishStop, Tokens: 10}, nil
	}
}

func fail(err error) roleScript {
	return func(int, model.Request) (model.Response, error) { return model.Response{}, err }
}

var errUpstream = errors.New("upstream exploded")

// fixture wires a council to a scripted model routed by the agent's system
// prompt.
type fixture struct {
	t       *testing.T
	council *council.Council
	store   *persistence.Facade
	mock    *model.MockModel

	mu     sync.Mutex
	script map[agent.Role]roleScript
	calls  map[agent.Role]int
	sleeps []time.Duration
}

func newFixture(t *testing.T, tools *tool.Dispatcher, optFns ...func(o *council.Options)) *fixture {
	t.Helper()
	f := &fixture{t: t, script: map[agent.Role]roleScript{}, calls: map[agent.Role]int{}}

	f.mock = model.NewMockModel("mock", model.FamilyFlexible).WithHandler(f.handle)
	gw := model.NewGateway(func(o *model.Options) {
		o.Flexible = f.mock
		o.Sleep = func(_ context.Context, d time.Duration) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.sleeps = append(f.sleeps, d)
			return nil
		}
	})

	models := make(map[string]string, len(agent.ModelKeys))
	for _, k := range agent.ModelKeys {
		models[k] = "mock-model"
	}
	now := func() time.Time { return time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC) }

	f.store = persistence.New(session.NewInMemoryStore(), memory.NewInMemoryStore(), nil)
	reg := agent.NewRegistry(func(o *agent.Options) { o.Models = models; o.Now = now })
	builder := contextbuilder.New(f.store, council.NewSummarizer(gw, reg))

	f.council = council.New(gw, builder, f.store, tools, append([]func(o *council.Options){
		func(o *council.Options) {
			o.Models = models
			o.Now = now
		},
	}, optFns...)...)
	return f
}

func roleOf(system string) agent.Role {
	switch {
	case strings.Contains(system, "the planner of"):
		return agent.RolePlanner
	case strings.Contains(system, "the implementer of"):
		return agent.RoleImplementer
	case strings.Contains(system, "the reviewer of"):
		return agent.RoleReasoner
	case strings.Contains(system, "the final arbiter of"):
		return agent.RoleArbiter
	case strings.Contains(system, "the scribe of"):
		return agent.RoleSummarizer
	default:
		return agent.RoleInnovator
	}
}

func (f *fixture) handle(req model.Request) (model.Response, error) {
	role := roleOf(req.System)
	f.mu.Lock()
	f.calls[role]++
	n := f.calls[role]
	fn := f.script[role]
	f.mu.Unlock()
	if fn == nil {
		return say(string(role)+" output")(n, req)
	}
	return fn(n, req)
}

func (f *fixture) on(role agent.Role, fn roleScript) *fixture {
	f.script[role] = fn
	return f
}

func (f *fixture) callCount(role agent.Role) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[role]
}

func (f *fixture) requests(role agent.Role) []model.Request {
	var out []model.Request
	for _, r := range f.mock.Calls() {
		if roleOf(r.System) == role {
			out = append(out, r)
		}
	}
	return out
}

func lastContent(req model.Request) string {
	if len(req.Messages) == 0 {
		return ""
	}
	return req.Messages[len(req.Messages)-1].Content
}

func (f *fixture) run(req council.Request) (*council.Run, testutil.EventLog) {
	f.t.Helper()
	run, events, errs := f.council.Run(context.Background(), req)
	log := testutil.Drain(f.t, events, errs, 10*time.Second)
	return run, log
}

const codingSentence = "Write a Go function that parses a CSV line into fields, handling quoted values and escaped quotes. "

func codingRequest(n int) string {
	return strings.Repeat(codingSentence, n/len(codingSentence)+1)[:n]
}

var longSolution = "```go\nfunc ParseLine(line string) ([]string, error) {\n\tr := csv.NewReader(strings.NewReader(line))\n\treturn r.Read()\n}\n```\n" +
	"The standard csv reader handles quoted fields and doubled quotes, so the function only wraps it and returns its error."

func TestSimpleFastPath(t *testing.T) {
	f := newFixture(t, nil)
	f.on(agent.RolePlanner, say("Hello! How can the council help you?"))

	run, log := f.run(council.Request{Input: "hello"})

	assert.Equal(t, 1, f.mock.CallCount(), "exactly one agent call")
	assert.Equal(t, 1, f.callCount(agent.RolePlanner))

	final := log.Final()
	require.Len(t, final, 1)
	assert.Equal(t, core.TagFinal, final[0].Tag)
	assert.Equal(t, "Hello! How can the council help you?", final[0].Content)

	for _, tag := range []string{core.TagPlanner, core.TagImplementer, core.TagReasoner, core.TagArbiter} {
		assert.Empty(t, log.WithTag(tag), "unexpected %s event", tag)
	}
	assert.Equal(t, core.TagCompletion, log.Last().Tag)
	assert.Equal(t, "Council complete. Budget remaining: 14990/15000 tokens", log.Last().Content)
	assert.Equal(t, []council.State{council.StateReceived, council.StatePreprocessed, council.StateDone}, run.Path())
}

func TestParallelPathSkipsArbiterOnImmediateApproval(t *testing.T) {
	f := newFixture(t, nil)
	f.on(agent.RolePlanner, say("1. Use encoding/csv.\n2. Wrap the reader."))
	f.on(agent.RoleImplementer, say(longSolution))
	f.on(agent.RoleReasoner, say("Looks good. The solution is correct and handles quoted fields.\nVERDICT: APPROVED"))

	input := codingRequest(300)
	run, log := f.run(council.Request{Input: input})

	assert.Equal(t, 1, f.callCount(agent.RolePlanner))
	assert.Equal(t, 1, f.callCount(agent.RoleImplementer))
	assert.Equal(t, 1, f.callCount(agent.RoleReasoner))
	assert.Equal(t, 0, f.callCount(agent.RoleArbiter), "arbiter must be skipped")

	final := log.Final()
	require.Len(t, final, 1)
	assert.Equal(t, longSolution, final[0].Content)
	assert.True(t, strings.HasSuffix(final[0].Speaker, "(approved, arbiter skipped)"), final[0].Speaker)
	assert.Contains(t, final[0].Speaker, "Executor")
	assert.Empty(t, log.Warnings())
	assert.Len(t, log.Containing("Solution archived"), 1)

	assert.Equal(t, []council.State{
		council.StateReceived, council.StatePreprocessed, council.StatePlanning,
		council.StateParallelExecution, council.StateReviewing, council.StateFinalizing, council.StateDone,
	}, run.Path())

	// planner, implementer and reasoner stream in that order
	tags := []string{}
	for _, ev := range log {
		switch ev.Tag {
		case core.TagPlanner, core.TagImplementer, core.TagReasoner:
			tags = append(tags, ev.Tag)
		}
	}
	assert.Equal(t, []string{core.TagPlanner, core.TagImplementer, core.TagReasoner}, tags)

	history := f.store.GetHistory(context.Background(), run.SessionID, 50)
	require.Len(t, history, 6, "user, planner, implementer, reasoner, innovator and final")
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, input, history[0].Content)
	assert.Contains(t, history[5].Agent, "(approved, arbiter skipped)")
}

type fakeMedia struct {
	url    string
	err    error
	prompt string
}

func (m *fakeMedia) Generate(_ context.Context, prompt string) (string, error) {
	m.prompt = prompt
	return m.url, m.err
}

func TestMediaFastPath(t *testing.T) {
	img := &fakeMedia{url: "https://images.example/fox.png"}
	f := newFixture(t, &tool.Dispatcher{Image: img})

	run, log := f.run(council.Request{Input: "image: a red fox in snow"})

	assert.Equal(t, 0, f.mock.CallCount(), "no agent may be invoked")
	assert.Equal(t, "a red fox in snow", img.prompt)
	require.Len(t, log, 2)
	assert.Equal(t, core.ContentImage, log[0].ContentType)
	assert.Equal(t, "https://images.example/fox.png", log[0].Content)
	assert.True(t, log[0].Final)
	assert.Equal(t, core.TagCompletion, log[1].Tag)
	assert.Equal(t, []council.State{council.StateReceived, council.StatePreprocessed, council.StateDone}, run.Path())
}

func TestMediaFastPathFailureIsFinalWarning(t *testing.T) {
	f := newFixture(t, nil)

	_, log := f.run(council.Request{Input: "video: waves at dusk"})

	assert.Equal(t, 0, f.mock.CallCount())
	final := log.Final()
	require.Len(t, final, 1)
	assert.True(t, final[0].IsWarning())
	assert.Contains(t, final[0].Content, "not configured")
}

// cancellingMedia cancels the run while the media is being generated.
type cancellingMedia struct {
	cancel context.CancelFunc
}

func (m *cancellingMedia) Generate(context.Context, string) (string, error) {
	m.cancel()
	return "https://images.example/late.png", nil
}

func TestMediaFastPathCancelledDuringGeneration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, &tool.Dispatcher{Image: &cancellingMedia{cancel: cancel}})

	run, events, errs := f.council.Run(ctx, council.Request{Input: "image: a red fox in snow"})
	var finals int
	for ev := range events {
		if ev.Final {
			finals++
		}
	}
	err := <-errs
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), err)
	assert.Equal(t, 0, finals, "a cancelled run streams no final answer")
	assert.Equal(t, council.StateErrored, run.State())
	assert.Equal(t, 0, f.council.Active())
}

func TestTaskRequestsStayWithinContextCeiling(t *testing.T) {
	const ceiling = 24000
	huge := "```go\n" + strings.Repeat("fields = append(fields, field)\n", 1000) + "```\nThe loop collects every field."
	critique := strings.Repeat("The quoting branch is wrong. ", 200) + "\nVERDICT: REJECTED"

	for name, input := range map[string]string{
		"parallel":   codingRequest(300),
		"full input": codingRequest(23900),
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.on(agent.RoleImplementer, say(huge))
			f.on(agent.RoleReasoner, say(critique))
			f.on(agent.RoleArbiter, say("Final ruling."))

			_, log := f.run(council.Request{Input: input})
			require.Len(t, log.Final(), 1)

			calls := f.mock.Calls()
			require.NotEmpty(t, calls)
			for i, req := range calls {
				if n := model.TotalChars(req.Messages); n > ceiling {
					t.Fatalf("request %d (%s) carries %d chars, over the %d ceiling", i, roleOf(req.System), n, ceiling)
				}
			}

			impl := f.requests(agent.RoleImplementer)
			require.NotEmpty(t, impl)
			last := lastContent(impl[len(impl)-1])
			assert.True(t, strings.HasSuffix(last, "Fix ALL issues and provide the complete corrected solution."), "instruction must survive shortening")
			assert.Contains(t, last, "[PREVIOUS SOLUTION]\n")
			assert.Contains(t, last, "Your previous solution was REJECTED:\n")
		})
	}
}

func TestInnovatorAlternativeReachesArbiter(t *testing.T) {
	const alternative = "Skip encoding/csv and scan the line with a two-state machine."
	f := newFixture(t, nil)
	f.on(agent.RoleImplementer, say("short fix"))
	f.on(agent.RoleReasoner, say("Correct.\nVERDICT: APPROVED"))
	f.on(agent.RoleInnovator, say(alternative))
	f.on(agent.RoleArbiter, say("Arbiter answer."))

	_, log := f.run(council.Request{Input: codingRequest(300)})

	assert.Equal(t, 1, f.callCount(agent.RoleInnovator))
	innovator := log.WithTag(core.TagInnovator)
	require.Len(t, innovator, 1)
	assert.Equal(t, alternative, innovator[0].Content)

	innovatorReqs := f.requests(agent.RoleInnovator)
	require.Len(t, innovatorReqs, 1)
	assert.Contains(t, lastContent(innovatorReqs[0]), "[PLAN]\n")

	arbiter := f.requests(agent.RoleArbiter)
	require.Len(t, arbiter, 1)
	bundle := lastContent(arbiter[0])
	assert.Contains(t, bundle, "[CRITIQUE]\nCorrect.\nVERDICT: APPROVED\n\n[ALTERNATIVE]\n"+alternative)
	assert.Equal(t, "Arbiter answer.", log.Final()[0].Content)
}

func TestInnovatorFailureIsSilent(t *testing.T) {
	f := newFixture(t, nil)
	f.on(agent.RoleImplementer, say("short fix"))
	f.on(agent.RoleReasoner, say("Correct.\nVERDICT: APPROVED"))
	f.on(agent.RoleInnovator, fail(errUpstream))
	f.on(agent.RoleArbiter, say("Arbiter answer."))

	_, log := f.run(council.Request{Input: codingRequest(300)})

	assert.Empty(t, log.Warnings())
	assert.Empty(t, log.WithTag(core.TagInnovator))
	arbiter := f.requests(agent.RoleArbiter)
	require.Len(t, arbiter, 1)
	assert.NotContains(t, lastContent(arbiter[0]), "[ALTERNATIVE]")
	assert.Len(t, log.Final(), 1)
}

func TestRefinementCapInvokesArbiter(t *testing.T) {
	f := newFixture(t, nil)
	f.on(agent.RoleImplementer, func(n int, _ model.Request) (model.Response, error) {
		return model.Response{Text: fmt.Sprintf("solution v%d", n), FinishReason: model.FinishStop, Tokens: 10}, nil
	})
	f.on(agent.RoleReasoner, say("Critical bug: the parser is incorrect and crashes on empty input.\nVERDICT: REJECTED"))
	f.on(agent.RoleArbiter, say("Final ruling with the corrected parser."))

	run, log := f.run(council.Request{Input: codingRequest(300)})

	assert.Equal(t, 4, f.callCount(agent.RoleReasoner), "one review plus three re-reviews")
	assert.Equal(t, 4, f.callCount(agent.RoleImplementer))
	assert.Equal(t, 1, f.callCount(agent.RoleArbiter))
	assert.Len(t, log.Containing("max refinement rounds reached"), 1)
	assert.Len(t, log.Containing("Refinement round"), 3)

	arbiter := f.requests(agent.RoleArbiter)
	require.Len(t, arbiter, 1)
	assert.Contains(t, lastContent(arbiter[0]), "[SOLUTION]\nsolution v4")
	assert.Contains(t, lastContent(arbiter[0]), "did not approve")

	final := log.Final()
	require.Len(t, final, 1)
	assert.Equal(t, "Final ruling with the corrected parser.", final[0].Content)
	assert.Empty(t, log.Containing("Solution archived"), "rejected answers are not archived")

	refining := 0
	for _, s := range run.Path() {
		if s == council.StateRefining {
			refining++
		}
	}
	assert.Equal(t, 3, refining)
	assert.Equal(t, council.StateDone, run.State())
}

func TestImplementerRateLimitedFallsBackToPlan(t *testing.T) {
	const plan = "1. Use encoding/csv.\n2. Wrap the reader."
	f := newFixture(t, nil)
	f.on(agent.RolePlanner, say(plan))
	f.on(agent.RoleImplementer, fail(model.NewError(model.KindRateLimited, "429", "slow down")))
	f.on(agent.RoleReasoner, say("The plan is sound.\nVERDICT: APPROVED"))

	_, log := f.run(council.Request{Input: codingRequest(300)})

	assert.Equal(t, 4, f.callCount(agent.RoleImplementer), "first attempt plus three retries")
	f.mu.Lock()
	sleeps := append([]time.Duration(nil), f.sleeps...)
	f.mu.Unlock()
	require.Len(t, sleeps, 3)
	for i := 1; i < len(sleeps); i++ {
		assert.GreaterOrEqual(t, sleeps[i], sleeps[i-1], "backoff must not decrease")
	}

	warnings := log.Warnings().Containing("rate_limited")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Content, "using the plan as the solution")

	// the plan stands in as the solution; no implementer output was real, so
	// the arbiter still decides
	arbiter := f.requests(agent.RoleArbiter)
	require.Len(t, arbiter, 1)
	assert.Contains(t, lastContent(arbiter[0]), "[SOLUTION]\n"+plan)
	assert.Len(t, log.Final(), 1)
}

func TestEveryFailureYieldsExactlyOneFinal(t *testing.T) {
	for name, input := range map[string]string{
		"simple":   "hello",
		"parallel": codingRequest(300),
		"debate":   codingRequest(600),
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, nil)
			for _, role := range []agent.Role{agent.RolePlanner, agent.RoleImplementer, agent.RoleReasoner, agent.RoleArbiter, agent.RoleSummarizer} {
				f.on(role, fail(errUpstream))
			}

			run, log := f.run(council.Request{Input: input})

			final := log.Final()
			require.Len(t, final, 1)
			assert.Contains(t, final[0].Content, council.TechnicalDifficulty)
			assert.True(t, strings.HasPrefix(final[0].Content, core.WarningPrefix))
			assert.NotEmpty(t, log.Warnings())
			for _, ev := range log {
				assert.NotEmpty(t, ev.Content, "event %s has no content", ev.ID)
			}
			assert.Equal(t, council.StateDone, run.State())
			assert.Equal(t, core.TagCompletion, log.Last().Tag)
		})
	}
}

func TestDebateRefinementBound(t *testing.T) {
	f := newFixture(t, nil)
	f.on(agent.RoleReasoner, say("This is wrong: missing error handling, a race condition and a leak.\nVERDICT: REJECTED"))

	run, log := f.run(council.Request{Input: codingRequest(600)})

	assert.Equal(t, 4, f.callCount(agent.RoleReasoner), "challenge plus three re-reviews")
	assert.Equal(t, 5, f.callCount(agent.RoleImplementer), "propose, respond and three fixes")
	assert.Equal(t, 1, f.callCount(agent.RoleArbiter))
	assert.Equal(t, 0, f.callCount(agent.RoleInnovator), "the innovator only joins the parallel fan-out")
	assert.Contains(t, run.Path(), council.StateDebate)
	assert.NotContains(t, run.Path(), council.StateParallelExecution)
	assert.Len(t, log.Final(), 1)
}

func TestDebateFailureSeedsParallel(t *testing.T) {
	f := newFixture(t, nil)
	f.on(agent.RoleImplementer, func(n int, _ model.Request) (model.Response, error) {
		if n == 1 {
			return model.Response{Text: longSolution, FinishReason: model.FinishStop}, nil
		}
		return model.Response{}, errUpstream
	})
	f.on(agent.RoleReasoner, say("Correct and complete.\nVERDICT: APPROVED"))

	run, log := f.run(council.Request{Input: codingRequest(600)})

	assert.Equal(t, 2, f.callCount(agent.RoleImplementer))
	assert.Equal(t, 1, f.callCount(agent.RoleReasoner), "the challenge is reused as the critique")
	require.Len(t, log.Containing("falling back to parallel execution"), 1)

	path := run.Path()
	assert.Contains(t, path, council.StateDebate)
	assert.Contains(t, path, council.StateParallelExecution)

	final := log.Final()
	require.Len(t, final, 1)
	assert.Equal(t, longSolution, final[0].Content)
}

func TestReviewerFailureUsesNeutralCritique(t *testing.T) {
	f := newFixture(t, nil)
	f.on(agent.RoleImplementer, say(longSolution))
	f.on(agent.RoleReasoner, fail(errUpstream))
	f.on(agent.RoleArbiter, say("Arbiter answer."))

	_, log := f.run(council.Request{Input: codingRequest(300)})

	require.Len(t, log.Warnings().Containing("continuing without a review"), 1)
	assert.Equal(t, 1, f.callCount(agent.RoleArbiter), "a missing review is not an approval")
	arbiter := f.requests(agent.RoleArbiter)
	require.Len(t, arbiter, 1)
	assert.Contains(t, lastContent(arbiter[0]), "[CRITIQUE]\n"+council.NeutralCritique)
	assert.Equal(t, "Arbiter answer.", log.Final()[0].Content)
}

func TestArbiterFailureFallsBackToSolution(t *testing.T) {
	f := newFixture(t, nil)
	f.on(agent.RoleImplementer, say("short fix"))
	f.on(agent.RoleReasoner, say("VERDICT: APPROVED"))
	f.on(agent.RoleArbiter, fail(errUpstream))

	_, log := f.run(council.Request{Input: codingRequest(300)})

	final := log.Final()
	require.Len(t, final, 1)
	assert.Equal(t, "short fix", final[0].Content)
	assert.Len(t, log.Warnings().Containing("delivering the latest solution"), 1)
}

type fakeSearch struct {
	mu      sync.Mutex
	queries []string
	results []tool.SearchResult
}

func (s *fakeSearch) Search(_ context.Context, q string) ([]tool.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	return s.results, nil
}

type fakeReader struct {
	mu   sync.Mutex
	urls []string
}

func (r *fakeReader) Fetch(_ context.Context, url string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, url)
	return "page body of " + url
}

func TestDirectivesExecuteOncePerRun(t *testing.T) {
	search := &fakeSearch{results: []tool.SearchResult{{Title: "Go", URL: "https://go.dev"}}}
	f := newFixture(t, &tool.Dispatcher{Search: search})
	solution := longSolution + "\n[SEARCH: encoding/csv quoting]"
	f.on(agent.RoleImplementer, say(solution))
	f.on(agent.RoleReasoner, say("Correct.\nVERDICT: APPROVED"))

	_, log := f.run(council.Request{Input: codingRequest(300)})

	// the final text repeats the directive; it runs only once
	assert.Equal(t, []string{"encoding/csv quoting"}, search.queries)
	directives := log.WithTag(core.TagDirective)
	require.Len(t, directives, 1)
	assert.Contains(t, directives[0].Content, "Search results for")
	assert.Contains(t, log.Final()[0].Content, "[SEARCH: encoding/csv quoting]", "directive text stays in the message")
}

func TestPreprocessEnrichesInput(t *testing.T) {
	search := &fakeSearch{results: []tool.SearchResult{
		{Title: "C", URL: "https://c.example/doc"},
	}}
	reader := &fakeReader{}
	f := newFixture(t, &tool.Dispatcher{Search: search, Fetch: reader})

	input := "search: latest csv rfc\nCompare https://a.example/x and https://b.example/y for me, then write a summary."
	_, log := f.run(council.Request{Input: input})

	assert.Equal(t, []string{"latest csv rfc"}, search.queries)
	assert.Equal(t, []string{"https://a.example/x", "https://b.example/y"}, reader.urls, "input URLs first, capped at two")
	assert.Len(t, log.Containing("Searching the web"), 1)

	planner := f.requests(agent.RolePlanner)
	require.Len(t, planner, 1)
	turn := lastContent(planner[0])
	assert.Contains(t, turn, "[Current date and time: Monday, 2 March 2026")
	assert.Contains(t, turn, "[WEB SEARCH RESULTS: latest csv rfc]")
	assert.Contains(t, turn, "[CONTENT FROM https://a.example/x]\npage body of https://a.example/x")
}

func TestAttachmentIsPersistedAndSkipsFastPath(t *testing.T) {
	f := newFixture(t, nil)

	run, log := f.run(council.Request{
		Input:      "hi",
		Attachment: &council.Attachment{Name: "notes.txt", Content: "alpha\nbeta"},
	})

	assert.Equal(t, 1, f.callCount(agent.RolePlanner))
	assert.Equal(t, 1, f.callCount(agent.RoleImplementer), "attachments always get the full council")
	assert.Len(t, log.Final(), 1)

	files := f.store.Files(context.Background(), run.SessionID)
	require.Len(t, files, 1)
	assert.Equal(t, "notes.txt", files[0].Name)
	assert.Equal(t, 10, files[0].Size)

	first := f.store.GetHistory(context.Background(), run.SessionID, 50)[0]
	assert.Equal(t, "hi\n\n[ATTACHED FILE: notes.txt]\n```\nalpha\nbeta\n```", first.Content)
}

func TestCancelledRunErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, events, errs := f.council.Run(ctx, council.Request{Input: "hello"})
	for range events {
	}
	err := <-errs
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), err)
	assert.Equal(t, council.StateErrored, run.State())
	assert.Equal(t, 0, f.council.Active())
}

func TestEmptyInputIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.council.RunSync(context.Background(), council.Request{Input: "   "})
	require.ErrorIs(t, err, council.ErrEmptyInput)
}

func TestTransitionHookObservesEveryStep(t *testing.T) {
	var (
		mu    sync.Mutex
		steps []string
	)
	f := newFixture(t, nil, func(o *council.Options) {
		o.OnTransition = func(_ *council.Run, from, to council.State) {
			mu.Lock()
			defer mu.Unlock()
			steps = append(steps, string(from)+"->"+string(to))
		}
	})

	_, _ = f.run(council.Request{Input: "hello"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"received->preprocessed", "preprocessed->done"}, steps)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to council.State
		want     bool
	}{
		{council.StateReceived, council.StatePreprocessed, true},
		{council.StatePreprocessed, council.StateDone, true},
		{council.StatePreprocessed, council.StateFinalizing, false},
		{council.StatePlanning, council.StateDebate, true},
		{council.StateDebate, council.StateParallelExecution, true},
		{council.StateReviewing, council.StateFinalizing, true},
		{council.StateRefining, council.StateRefining, true},
		{council.StateFinalizing, council.StateReviewing, false},
		{council.StateDone, council.StatePlanning, false},
		{council.StatePlanning, council.StateErrored, true},
		{council.StateDone, council.StateErrored, false},
		{council.StateErrored, council.StateErrored, false},
	}
	for _, tt := range tests {
		if got := council.CanTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
