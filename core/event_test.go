package core

import (
	"strings"
	"testing"
)

// Event constructor & helper method tests
func TestEvent_Constructors(t *testing.T) {
	e := NewEvent("run-1", "Planner", "plan", ContentText)
	if e.Speaker != "Planner" || e.RunID != "run-1" || e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("NewEvent did not initialize fields correctly: %+v", e)
	}

	sys := NewSystemEvent("run-1", "Searching")
	if sys.ContentType != ContentSystem || sys.Speaker != "System" || sys.IsWarning() {
		t.Fatalf("NewSystemEvent malformed: %+v", sys)
	}

	w := NewWarningEvent("run-1", "implementer failed")
	if !strings.HasPrefix(w.Content, WarningPrefix) || !w.IsWarning() || w.Tag != TagWarning {
		t.Fatalf("NewWarningEvent malformed: %+v", w)
	}

	// prefix is not doubled
	w2 := NewWarningEvent("run-1", WarningPrefix+"already")
	if strings.Count(w2.Content, WarningPrefix) != 1 {
		t.Fatalf("warning prefix duplicated: %q", w2.Content)
	}

	a := NewAgentEvent("run-1", "Critic", TagReasoner, "looks good")
	if a.ContentType != ContentText || a.Tag != TagReasoner || a.Final {
		t.Fatalf("NewAgentEvent malformed: %+v", a)
	}
}

func TestEvent_IDsAreOrdered(t *testing.T) {
	prev := NewSystemEvent("", "a").ID
	for i := 0; i < 50; i++ {
		next := NewSystemEvent("", "b").ID
		if next[:10] < prev[:10] {
			t.Fatalf("event id timestamp went backwards: %s < %s", next, prev)
		}
		prev = next
	}
}
