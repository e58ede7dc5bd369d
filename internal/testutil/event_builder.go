package testutil

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/agentcouncil/core"
)

// EventLog is a captured council event stream with filter helpers.
type EventLog []core.Event

// Drain collects events until both channels close and fails the test on a
// stream error or after timeout.
func Drain(t testing.TB, events <-chan core.Event, errs <-chan error, timeout time.Duration) EventLog {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var log EventLog
	for events != nil || errs != nil {
		select {
		case <-ctx.Done():
			t.Fatalf("event stream did not finish within %s (got %d events)", timeout, len(log))
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			log = append(log, ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				t.Fatalf("event stream error: %v", err)
			}
		}
	}
	return log
}

// Final returns the events flagged as final answers.
func (l EventLog) Final() EventLog {
	return l.filter(func(e core.Event) bool { return e.Final })
}

// WithTag returns the events carrying tag.
func (l EventLog) WithTag(tag string) EventLog {
	return l.filter(func(e core.Event) bool { return e.Tag == tag })
}

// OfType returns the events of the given content type.
func (l EventLog) OfType(ct core.ContentType) EventLog {
	return l.filter(func(e core.Event) bool { return e.ContentType == ct })
}

// Warnings returns the warning events.
func (l EventLog) Warnings() EventLog {
	return l.filter(func(e core.Event) bool { return e.IsWarning() })
}

// Containing returns the events whose content includes substr.
func (l EventLog) Containing(substr string) EventLog {
	return l.filter(func(e core.Event) bool { return strings.Contains(e.Content, substr) })
}

// Speakers lists the speakers in stream order.
func (l EventLog) Speakers() []string {
	out := make([]string, len(l))
	for i, e := range l {
		out[i] = e.Speaker
	}
	return out
}

// Last returns the final element or a zero event.
func (l EventLog) Last() core.Event {
	if len(l) == 0 {
		return core.Event{}
	}
	return l[len(l)-1]
}

func (l EventLog) filter(keep func(core.Event) bool) EventLog {
	var out EventLog
	for _, e := range l {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
