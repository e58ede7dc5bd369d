package core

import (
	"strings"
	"time"

	"github.com/hupe1980/agentcouncil/internal/idgen"
)

// ContentType tells the client how to render an event.
type ContentType string

const (
	// ContentSystem is a status or warning line from the orchestrator.
	ContentSystem ContentType = "system"
	// ContentText is agent output; Event.Tag carries the council role.
	ContentText ContentType = "text"
	// ContentImage carries an image URL.
	ContentImage ContentType = "image"
	// ContentVideo carries a video URL.
	ContentVideo ContentType = "video"
)

// WarningPrefix marks events that report a degraded step.
const WarningPrefix = "⚠️ "

// Event tags used by the council.
const (
	TagPlanner     = "planner"
	TagImplementer = "implementer"
	TagReasoner    = "reasoner"
	TagInnovator   = "innovator"
	TagArbiter     = "arbiter"
	TagFinal       = "final"
	TagDirective   = "directive"
	TagWarning     = "warning"
	TagCompletion  = "completion"
)

// Event is one complete, displayable unit of a council run stream. After
// emission it should be treated as immutable.
type Event struct {
	ID          string      `json:"id"`
	RunID       string      `json:"run_id,omitempty"`
	Speaker     string      `json:"speaker"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"content_type"`
	Tag         string      `json:"tag,omitempty"`
	Final       bool        `json:"final,omitempty"` // set on the single final-answer event of a run
	Timestamp   time.Time   `json:"timestamp"`
}

// NewEvent creates an event with a fresh sortable id.
func NewEvent(runID, speaker, content string, contentType ContentType) Event {
	return Event{
		ID:          idgen.NewEventID(),
		RunID:       runID,
		Speaker:     speaker,
		Content:     content,
		ContentType: contentType,
		Timestamp:   time.Now().UTC(),
	}
}

// NewSystemEvent creates a status line authored by the orchestrator.
func NewSystemEvent(runID, content string) Event {
	return NewEvent(runID, "System", content, ContentSystem)
}

// NewWarningEvent creates a system event prefixed with WarningPrefix.
func NewWarningEvent(runID, content string) Event {
	if !strings.HasPrefix(content, WarningPrefix) {
		content = WarningPrefix + content
	}
	ev := NewSystemEvent(runID, content)
	ev.Tag = TagWarning
	return ev
}

// NewAgentEvent creates a text event for agent output.
func NewAgentEvent(runID, speaker, tag, content string) Event {
	ev := NewEvent(runID, speaker, content, ContentText)
	ev.Tag = tag
	return ev
}

// IsWarning reports whether the event carries a warning.
func (e Event) IsWarning() bool {
	return e.Tag == TagWarning || strings.HasPrefix(e.Content, WarningPrefix)
}
