package council

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/hupe1980/agentcouncil/agent"
	"github.com/hupe1980/agentcouncil/classify"
	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/directive"
	"github.com/hupe1980/agentcouncil/internal/util"
	"github.com/hupe1980/agentcouncil/model"
	"github.com/hupe1980/agentcouncil/tool"
)

// ErrEmptyInput is returned for a request without input or attachment.
var ErrEmptyInput = errors.New("empty request")

const titleChars = 60

var (
	searchPrefixRe = regexp.MustCompile(`(?im)^\s*search:\s*(\S.*)$`)
	urlRe          = regexp.MustCompile(`https?://[^\s<>"'\]\[()]+`)
)

// deliberation is the working state of the multi-agent path.
type deliberation struct {
	input  string
	plan   string
	planOK bool

	solution      string
	solutionOK    bool // produced by the implementer
	solutionLabel string
	solutionAgent string

	critique   string
	critiqueOK bool

	alternative string

	approved  bool
	immediate bool // approved on the first review, before any refinement
	forced    bool // loop ended by a failed call
	rounds    int
}

// seed carries partial debate output into the parallel phase.
type seed struct {
	solution       *reply
	critique       *reply
	reasonerFailed bool
}

// final is the single answer of a run.
type final struct {
	label     string // event speaker
	agent     string // persisted agent label
	text      string
	tokens    int
	archive   bool
	technical bool
}

func (c *Council) execute(ctx context.Context, run *Run, req Request) error {
	input := strings.TrimSpace(req.Input)
	if input == "" && (req.Attachment == nil || req.Attachment.Content == "") {
		return ErrEmptyInput
	}

	run.input = input
	userMessage := c.receive(ctx, run, req, input)

	if media, ok := c.opts.Classifiers.Media(input); ok && req.Attachment == nil {
		c.transition(run, StatePreprocessed)
		return c.mediaPath(ctx, run, media)
	}

	working, err := c.preprocess(ctx, run, input, userMessage)
	if err != nil {
		return err
	}
	c.transition(run, StatePreprocessed)

	if req.Attachment == nil && c.opts.Classifiers.Simple(input) {
		return c.simplePath(ctx, run, working)
	}

	c.transition(run, StatePlanning)
	base, stats := c.builder.Build(ctx, run.SessionID, working, run.UserID)
	c.logger.Debug("Context built", "run_id", run.ID, "chars", stats.TotalChars, "ceiling", stats.Ceiling,
		"recent", stats.Recent, "memories", stats.Memories, "input_truncated", stats.InputTruncated)

	d := &deliberation{input: input}
	planner := c.call(ctx, run, agent.RolePlanner, base)
	if planner.ok() {
		if err := c.publish(ctx, run, planner, core.TagPlanner); err != nil {
			return err
		}
		d.plan, d.planOK = planner.text, true
	} else {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.warn(ctx, run, "%s", failure(planner, "continuing with a minimal plan")); err != nil {
			return err
		}
		d.plan = fallbackPlan(input)
	}

	if c.opts.Classifiers.Complex(userMessage) {
		c.transition(run, StateDebate)
		err = c.debate(ctx, run, base, d)
	} else {
		c.transition(run, StateParallelExecution)
		err = c.parallel(ctx, run, base, d, seed{})
	}
	if err != nil {
		return err
	}

	c.transition(run, StateReviewing)
	if err := c.review(ctx, run, base, d); err != nil {
		return err
	}

	c.transition(run, StateFinalizing)
	return c.finalize(ctx, run, d)
}

// receive resolves the session and persists the raw user turn.
func (c *Council) receive(ctx context.Context, run *Run, req Request, input string) string {
	title := util.Ellipsize(util.FirstLine(input), titleChars)
	if title == "" && req.Attachment != nil {
		title = req.Attachment.Name
	}
	if run.SessionID == "" {
		run.SessionID = c.store.CreateSession(ctx, title, string(run.Theme), run.UserID)
	} else {
		run.SessionID = c.store.EnsureSession(ctx, run.SessionID, title, string(run.Theme), run.UserID).ID
	}

	msg := input
	if a := req.Attachment; a != nil {
		msg += "\n\n[ATTACHED FILE: " + a.Name + "]\n```\n" + util.Truncate(a.Content, c.opts.AttachmentChars) + "\n```"
		c.store.AddFile(ctx, run.SessionID, a.Name, util.Len(a.Content))
	}
	c.store.SaveMessage(ctx, run.SessionID, core.RoleUser, "", msg)
	return msg
}

// preprocess enriches the user turn with the date, web results, fetched pages
// and the results of directives written by the user.
func (c *Council) preprocess(ctx context.Context, run *Run, input, userMessage string) (string, error) {
	var b strings.Builder
	b.WriteString(userMessage)

	if c.opts.Classifiers.Temporal(input) {
		fmt.Fprintf(&b, "\n\n[Current date and time: %s]", c.opts.Now().Format("Monday, 2 January 2006 15:04 MST"))
	}

	var found []string
	if m := searchPrefixRe.FindStringSubmatch(input); m != nil && c.tools.Search != nil {
		query := strings.TrimSpace(m[1])
		if err := c.emit(ctx, run, core.NewSystemEvent(run.ID, "🔍 Searching the web: "+query)); err != nil {
			return "", err
		}
		results, err := c.tools.Search.Search(ctx, query)
		if err != nil {
			if err := c.warn(ctx, run, "Web search failed: %v", err); err != nil {
				return "", err
			}
		} else {
			fmt.Fprintf(&b, "\n\n[WEB SEARCH RESULTS: %s]\n%s", query, tool.Format(results))
			found = tool.URLs(results)
		}
	}

	dirs := directive.Extract(input)
	if c.tools.Fetch != nil {
		for _, u := range c.fetchTargets(input, dirs, found) {
			if err := c.emit(ctx, run, core.NewSystemEvent(run.ID, "📄 Reading "+u)); err != nil {
				return "", err
			}
			text := util.Truncate(c.tools.Fetch.Fetch(ctx, u), c.opts.FetchChars)
			fmt.Fprintf(&b, "\n\n[CONTENT FROM %s]\n%s", u, text)
		}
	}

	for _, d := range dirs {
		switch d.Verb {
		case directive.VerbSearch, directive.VerbFetch, directive.VerbGitHub, directive.VerbRun:
		default:
			continue
		}
		out, err := c.runDirective(ctx, run, d)
		if err != nil {
			return "", err
		}
		if out != "" {
			fmt.Fprintf(&b, "\n\n[%s RESULT]\n%s", d.Verb, out)
		}
	}

	return b.String(), nil
}

// fetchTargets returns the first URLs to read: those in the input (outside
// directives) before those found by the web search.
func (c *Council) fetchTargets(input string, dirs []directive.Directive, found []string) []string {
	stripped := input
	for _, d := range dirs {
		stripped = strings.ReplaceAll(stripped, d.Raw, "")
	}

	seen := make(map[string]struct{})
	var out []string
	for _, u := range append(urlRe.FindAllString(stripped, -1), found...) {
		u = strings.TrimRight(u, ".,;:!?")
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
		if len(out) == c.opts.MaxFetchURLs {
			break
		}
	}
	return out
}

func (c *Council) mediaPath(ctx context.Context, run *Run, media classify.MediaRequest) error {
	verb, speaker := directive.VerbImage, "🎨 Image"
	if media.Kind == classify.MediaVideo {
		verb, speaker = directive.VerbVideo, "🎬 Video"
	}

	out := c.tools.Execute(ctx, directive.Directive{Verb: verb, Payload: media.Prompt})
	if err := ctx.Err(); err != nil {
		return err
	}

	var ev core.Event
	if out.Err != nil {
		c.logger.Warn("Media generation failed", "run_id", run.ID, "kind", string(media.Kind), "error", out.Err)
		ev = core.NewWarningEvent(run.ID, out.Content)
	} else {
		ev = core.NewEvent(run.ID, speaker, out.Content, out.ContentType)
		c.store.SaveMessage(ctx, run.SessionID, core.RoleAssistant, speaker, out.Content)
	}
	ev.Tag, ev.Final = core.TagFinal, true
	if err := c.emit(ctx, run, ev); err != nil {
		return err
	}
	return c.complete(ctx, run, StateDone)
}

func (c *Council) simplePath(ctx context.Context, run *Run, working string) error {
	base, _ := c.builder.Build(ctx, run.SessionID, working, run.UserID)
	rep := c.call(ctx, run, agent.RolePlanner, base)
	if !rep.ok() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.warn(ctx, run, "%s", failure(rep, "no answer is available")); err != nil {
			return err
		}
		return c.finish(ctx, run, final{technical: true})
	}
	return c.finish(ctx, run, final{label: rep.label, agent: rep.name, text: rep.text, tokens: rep.tokens})
}

// debate runs propose, challenge and respond. A failed round hands the
// partial output to the parallel phase.
func (c *Council) debate(ctx context.Context, run *Run, base []model.Message, d *deliberation) error {
	proposal := c.call(ctx, run, agent.RoleImplementer, c.withTask(base, proposeTask(d.plan)))
	if !proposal.ok() {
		return c.abandonDebate(ctx, run, base, d, proposal, seed{})
	}
	if err := c.publish(ctx, run, proposal, core.TagImplementer); err != nil {
		return err
	}

	challenge := c.call(ctx, run, agent.RoleReasoner, c.withTask(base, challengeTask(proposal.text)))
	if !challenge.ok() {
		return c.abandonDebate(ctx, run, base, d, challenge, seed{solution: &proposal, reasonerFailed: true})
	}
	if err := c.publish(ctx, run, challenge, core.TagReasoner); err != nil {
		return err
	}

	response := c.call(ctx, run, agent.RoleImplementer, c.withTask(base, respondTask(proposal.text, challenge.text)))
	if !response.ok() {
		return c.abandonDebate(ctx, run, base, d, response, seed{solution: &proposal, critique: &challenge})
	}
	if err := c.publish(ctx, run, response, core.TagImplementer); err != nil {
		return err
	}

	d.setSolution(response)
	d.critique, d.critiqueOK = challenge.text, true
	return nil
}

func (c *Council) abandonDebate(ctx context.Context, run *Run, base []model.Message, d *deliberation, failed reply, s seed) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.warn(ctx, run, "%s", failure(failed, "falling back to parallel execution")); err != nil {
		return err
	}
	c.transition(run, StateParallelExecution)
	return c.parallel(ctx, run, base, d, s)
}

// parallel runs the implementer, the reasoner and, when registered, the
// innovator concurrently, each under its own timeout. Replies are published in
// a fixed order after all of them return. The innovator is advisory: its
// failure is logged, not streamed.
func (c *Council) parallel(ctx context.Context, run *Run, base []model.Message, d *deliberation, s seed) error {
	var (
		impl, rev, alt reply
		wg             sync.WaitGroup
	)

	slot := func(role agent.Role, render taskFunc, out *reply) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, c.opts.SlotTimeout)
			defer cancel()
			*out = c.call(sctx, run, role, c.withTask(base, render))
		}()
	}

	if s.solution == nil {
		slot(agent.RoleImplementer, implementTask(d.plan), &impl)
	}
	if s.critique == nil && !s.reasonerFailed {
		render := reviewPlanTask(d.plan)
		if s.solution != nil {
			render = reviewSolutionTask(s.solution.text)
		}
		slot(agent.RoleReasoner, render, &rev)
	}
	// the innovator only joins a fresh fan-out
	innovate := s == (seed{}) && run.registry.Has(agent.RoleInnovator)
	if innovate {
		slot(agent.RoleInnovator, innovateTask(d.plan), &alt)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	switch {
	case s.solution != nil:
		d.setSolution(*s.solution)
	case impl.ok():
		if err := c.publish(ctx, run, impl, core.TagImplementer); err != nil {
			return err
		}
		d.setSolution(impl)
	default:
		if err := c.warn(ctx, run, "%s", failure(impl, "using the plan as the solution")); err != nil {
			return err
		}
		d.solution = d.plan
		if planner, ok := run.registry.Get(agent.RolePlanner); ok {
			d.solutionLabel, d.solutionAgent = speakerLabel(planner), planner.Name
		}
	}

	switch {
	case s.critique != nil:
		d.critique, d.critiqueOK = s.critique.text, true
	case s.reasonerFailed:
		d.critique = NeutralCritique
	case rev.ok():
		if err := c.publish(ctx, run, rev, core.TagReasoner); err != nil {
			return err
		}
		d.critique, d.critiqueOK = rev.text, true
	default:
		if err := c.warn(ctx, run, "%s", failure(rev, "continuing without a review")); err != nil {
			return err
		}
		d.critique = NeutralCritique
	}

	if !innovate {
		return nil
	}
	if !alt.ok() {
		c.logger.Debug("No alternative approach", "run_id", run.ID, "detail", failure(alt, "continuing without it"))
		return nil
	}
	if err := c.publish(ctx, run, alt, core.TagInnovator); err != nil {
		return err
	}
	d.alternative = alt.text
	return nil
}

// review classifies the critique and runs the bounded refinement loop.
func (c *Council) review(ctx context.Context, run *Run, base []model.Message, d *deliberation) error {
	d.approved = c.opts.Classifiers.Review(d.critique) == classify.Approved
	d.immediate = d.approved && d.critiqueOK

	for !d.approved && d.rounds < c.opts.MaxRefinements {
		d.rounds++
		c.transition(run, StateRefining)
		msg := fmt.Sprintf("🔄 Refinement round %d/%d", d.rounds, c.opts.MaxRefinements)
		if err := c.emit(ctx, run, core.NewSystemEvent(run.ID, msg)); err != nil {
			return err
		}

		fix := c.call(ctx, run, agent.RoleImplementer, c.withTask(base, fixTask(d.critique, d.solution)))
		if !fix.ok() {
			return c.endRefinement(ctx, run, d, fix, "keeping the previous solution")
		}
		if err := c.publish(ctx, run, fix, core.TagImplementer); err != nil {
			return err
		}
		d.setSolution(fix)

		rev := c.call(ctx, run, agent.RoleReasoner, c.withTask(base, reviewSolutionTask(d.solution)))
		if !rev.ok() {
			return c.endRefinement(ctx, run, d, rev, "accepting the revised solution")
		}
		if err := c.publish(ctx, run, rev, core.TagReasoner); err != nil {
			return err
		}
		d.critique, d.critiqueOK = rev.text, true
		d.approved = c.opts.Classifiers.Review(d.critique) == classify.Approved
	}

	if !d.approved {
		return c.warn(ctx, run, "max refinement rounds reached (%d); the arbiter decides on the last solution", c.opts.MaxRefinements)
	}
	return nil
}

// endRefinement treats a failed call inside the loop as approval.
func (c *Council) endRefinement(ctx context.Context, run *Run, d *deliberation, failed reply, fallback string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.approved, d.forced = true, true
	return c.warn(ctx, run, "%s", failure(failed, fallback))
}

func (c *Council) finalize(ctx context.Context, run *Run, d *deliberation) error {
	usable := d.solutionOK || d.planOK

	if d.rounds == 0 && d.immediate && d.solutionOK && util.Len(d.solution) >= c.opts.SkipArbiterMinChars {
		const skipped = " (approved, arbiter skipped)"
		return c.finish(ctx, run, final{
			label:   d.solutionLabel + skipped,
			agent:   d.solutionAgent + skipped,
			text:    d.solution,
			archive: true,
		})
	}

	arb := c.call(ctx, run, agent.RoleArbiter, []model.Message{
		{Role: core.RoleUser, Content: arbiterBundle(d, c.opts.MaxRefinements)},
	})
	if arb.ok() {
		return c.finish(ctx, run, final{
			label:   arb.label,
			agent:   arb.name,
			text:    arb.text,
			tokens:  arb.tokens,
			archive: d.approved && !d.forced,
		})
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if !usable {
		if err := c.warn(ctx, run, "%s", failure(arb, "no usable answer is left")); err != nil {
			return err
		}
		return c.finish(ctx, run, final{technical: true})
	}
	if err := c.warn(ctx, run, "%s", failure(arb, "delivering the latest solution")); err != nil {
		return err
	}
	return c.finish(ctx, run, final{label: d.solutionLabel, agent: d.solutionAgent, text: d.solution})
}

// finish emits the single final event, persists it, runs its directives,
// archives approved answers and closes the run.
func (c *Council) finish(ctx context.Context, run *Run, f final) error {
	if run.finals > 0 {
		c.logger.Error("Duplicate final answer suppressed", "run_id", run.ID)
		return c.complete(ctx, run, StateDone)
	}
	run.budget.Spend(f.tokens)

	var ev core.Event
	if f.technical {
		ev = core.NewWarningEvent(run.ID, TechnicalDifficulty)
	} else {
		ev = core.NewAgentEvent(run.ID, f.label, core.TagFinal, f.text)
	}
	ev.Tag, ev.Final = core.TagFinal, true
	if err := c.emit(ctx, run, ev); err != nil {
		return err
	}

	if !f.technical {
		c.store.SaveMessage(ctx, run.SessionID, core.RoleAssistant, f.agent, f.text)
		if err := c.runDirectives(ctx, run, f.text); err != nil {
			return err
		}
		if f.archive && c.store.SaveMemory(ctx, memoryEntry(run.input, f.text), run.UserID) {
			if err := c.emit(ctx, run, core.NewSystemEvent(run.ID, "📖 Solution archived to memory")); err != nil {
				return err
			}
		}
	}
	return c.complete(ctx, run, StateDone)
}

// complete emits the budget summary and moves the run to its terminal state.
func (c *Council) complete(ctx context.Context, run *Run, to State) error {
	ev := core.NewSystemEvent(run.ID, fmt.Sprintf("Council complete. Budget remaining: %s tokens", run.budget))
	ev.Tag = core.TagCompletion
	if err := c.emit(ctx, run, ev); err != nil {
		return err
	}
	c.transition(run, to)
	return nil
}

func (d *deliberation) setSolution(r reply) {
	d.solution, d.solutionOK = r.text, true
	d.solutionLabel, d.solutionAgent = r.label, r.name
}
