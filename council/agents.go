package council

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/hupe1980/agentcouncil/agent"
	"github.com/hupe1980/agentcouncil/contextbuilder"
	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/directive"
	"github.com/hupe1980/agentcouncil/internal/util"
	"github.com/hupe1980/agentcouncil/model"
)

// reply is the outcome of one agent call.
type reply struct {
	role   agent.Role
	name   string // display name, persisted as the message agent
	label  string // avatar and name, used as the event speaker
	text   string
	tokens int
	model  string
	err    error
}

func (r reply) ok() bool { return r.err == nil && r.text != "" }

func speakerLabel(d agent.Definition) string {
	if d.Avatar == "" {
		return d.Name
	}
	return d.Avatar + " " + d.Name
}

// call invokes role through the gateway. It never spends budget; the
// controller goroutine does that when it publishes the reply.
func (c *Council) call(ctx context.Context, run *Run, role agent.Role, msgs []model.Message) reply {
	def, ok := run.registry.Get(role)
	rep := reply{role: role.Canonical(), name: def.Name, label: speakerLabel(def)}
	if !ok {
		rep.name, rep.label = string(role), string(role)
		rep.err = fmt.Errorf("agent %s is not registered", role)
		return rep
	}
	system, err := run.registry.Prompt(role)
	if err != nil {
		rep.err = err
		return rep
	}

	res, err := c.gateway.Call(ctx, model.Target{
		Agent:       def.Name,
		Models:      run.registry.Models(role, run.budget.Exhausted()),
		System:      system,
		Temperature: def.Temperature,
	}, msgs, def.MaxTokens)
	if err != nil {
		rep.err = err
		return rep
	}
	rep.text, rep.tokens, rep.model = strings.TrimSpace(res.Text), res.Tokens, res.Model
	if rep.text == "" {
		rep.err = model.NewError(model.KindEmptyResponse, "", "agent returned no text")
	}
	return rep
}

// publish spends the reply's tokens, streams it, persists it and then runs
// its directives.
func (c *Council) publish(ctx context.Context, run *Run, rep reply, tag string) error {
	run.budget.Spend(rep.tokens)
	if err := c.emit(ctx, run, core.NewAgentEvent(run.ID, rep.label, tag, rep.text)); err != nil {
		return err
	}
	c.store.SaveMessage(ctx, run.SessionID, core.RoleAssistant, rep.name, rep.text)
	return c.runDirectives(ctx, run, rep.text)
}

func (c *Council) warn(ctx context.Context, run *Run, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	c.logger.Warn("Council step degraded", "run_id", run.ID, "detail", msg)
	return c.emit(ctx, run, core.NewWarningEvent(run.ID, msg))
}

// failure describes a failed agent call and the fallback taken.
func failure(rep reply, fallback string) string {
	kind := model.KindOf(rep.err)
	if kind == model.KindNotConfigured {
		return fmt.Sprintf("%s is not configured; %s.", rep.name, fallback)
	}
	return fmt.Sprintf("%s failed (%s); %s.", rep.name, kind, fallback)
}

// runDirectives executes the directives found in text, each at most once
// per run, streaming one event per result.
func (c *Council) runDirectives(ctx context.Context, run *Run, text string) error {
	for _, d := range directive.Extract(text) {
		if _, err := c.runDirective(ctx, run, d); err != nil {
			return err
		}
	}
	return nil
}

func (c *Council) runDirective(ctx context.Context, run *Run, d directive.Directive) (string, error) {
	key := string(d.Verb) + "\x00" + d.Payload + "\x00" + d.Source
	if _, done := run.executed[key]; done {
		return "", nil
	}
	run.executed[key] = struct{}{}

	out := c.tools.Execute(ctx, d)
	var ev core.Event
	if out.Err != nil {
		ev = core.NewWarningEvent(run.ID, out.Content)
	} else {
		ev = core.NewEvent(run.ID, toolSpeaker(d.Verb), out.Content, out.ContentType)
		ev.Tag = core.TagDirective
	}
	return out.Content, c.emit(ctx, run, ev)
}

func toolSpeaker(v directive.Verb) string {
	switch v {
	case directive.VerbImage:
		return "🎨 Image"
	case directive.VerbVideo:
		return "🎬 Video"
	case directive.VerbSearch:
		return "🔍 Search"
	case directive.VerbFetch, directive.VerbGitHub:
		return "📄 Reader"
	case directive.VerbRun:
		return "🖥️ Sandbox"
	default:
		return "System"
	}
}

// minTaskRoom is the space reserved for a task when base already fills the
// context ceiling.
const minTaskRoom = 2000

// withTask returns a copy of base whose final user turn is extended by the
// rendered task. The result stays within the context ceiling: the task is
// rendered into the remaining room, and the final user turn is shortened
// when less than minTaskRoom is left.
func (c *Council) withTask(base []model.Message, render taskFunc) []model.Message {
	out := append([]model.Message(nil), base...)
	n := len(out)
	extend := n > 0 && out[n-1].Role == core.RoleUser

	room := math.MaxInt32
	if ceiling := c.opts.ContextCeiling; ceiling > 0 {
		room = ceiling - model.TotalChars(out)
		if extend {
			room -= 2
			if room < minTaskRoom {
				last := util.Len(out[n-1].Content)
				cut := min(minTaskRoom-room, last)
				out[n-1].Content = util.Truncate(out[n-1].Content, last-cut)
				room += cut
			}
		}
		room = max(room, 0)
	}

	text := util.Truncate(render(room), room)
	if text == "" {
		return out
	}
	if extend {
		out[n-1].Content += "\n\n" + text
		return out
	}
	return append(out, model.Message{Role: core.RoleUser, Content: text})
}

// NewSummarizer returns a session summarizer backed by the summarizer agent.
func NewSummarizer(gw Gateway, reg *agent.Registry) contextbuilder.Summarizer {
	return contextbuilder.SummarizerFunc(func(ctx context.Context, transcript string) (string, error) {
		def, ok := reg.Get(agent.RoleSummarizer)
		if !ok {
			return "", fmt.Errorf("summarizer agent is not registered")
		}
		system, err := reg.Prompt(agent.RoleSummarizer)
		if err != nil {
			return "", err
		}
		res, err := gw.Call(ctx, model.Target{
			Agent:       def.Name,
			Models:      reg.Models(agent.RoleSummarizer, false),
			System:      system,
			Temperature: def.Temperature,
		}, []model.Message{{Role: core.RoleUser, Content: transcript}}, def.MaxTokens)
		if err != nil {
			return "", fmt.Errorf("summarize session: %w", err)
		}
		return res.Text, nil
	})
}
