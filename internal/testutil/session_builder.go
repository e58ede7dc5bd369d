package testutil

import (
	"context"
	"testing"

	"github.com/hupe1980/agentcouncil/core"
)

// HistoryBuilder seeds a session store with a conversation for tests.
// Example:
//
//	NewHistoryBuilder("sess-1").User("hi").Agent("Planner", "plan").Seed(t, store)
type HistoryBuilder struct {
	sessionID string
	messages  []core.Message
	files     []core.FileRef
	summary   string
	count     int
}

// NewHistoryBuilder creates a builder for the given session id.
func NewHistoryBuilder(sessionID string) *HistoryBuilder {
	return &HistoryBuilder{sessionID: sessionID}
}

// User appends a user turn (chainable).
func (b *HistoryBuilder) User(content string) *HistoryBuilder {
	b.messages = append(b.messages, core.Message{SessionID: b.sessionID, Role: core.RoleUser, Content: content})
	return b
}

// Agent appends an assistant turn labelled with agent (chainable).
func (b *HistoryBuilder) Agent(agent, content string) *HistoryBuilder {
	b.messages = append(b.messages, core.Message{SessionID: b.sessionID, Role: core.RoleAssistant, Agent: agent, Content: content})
	return b
}

// Turns appends n alternating user/agent turns with generated content (chainable).
func (b *HistoryBuilder) Turns(n int, content func(i int) string) *HistoryBuilder {
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			b.User(content(i))
			continue
		}
		b.Agent("Implementer", content(i))
	}
	return b
}

// File records an attached file (chainable).
func (b *HistoryBuilder) File(name string, size int) *HistoryBuilder {
	b.files = append(b.files, core.FileRef{SessionID: b.sessionID, Name: name, Size: size})
	return b
}

// Summary sets the cached session summary (chainable).
func (b *HistoryBuilder) Summary(summary string, count int) *HistoryBuilder {
	b.summary, b.count = summary, count
	return b
}

// Seed writes the session into store and fails the test on error.
func (b *HistoryBuilder) Seed(t testing.TB, store core.SessionStore) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.CreateSession(ctx, core.Session{ID: b.sessionID}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	for _, m := range b.messages {
		if _, err := store.AppendMessage(ctx, m); err != nil {
			t.Fatalf("append message: %v", err)
		}
	}
	for _, f := range b.files {
		if err := store.AddFile(ctx, f); err != nil {
			t.Fatalf("add file: %v", err)
		}
	}
	if b.summary != "" {
		if err := store.UpdateSummary(ctx, b.sessionID, b.summary, b.count); err != nil {
			t.Fatalf("update summary: %v", err)
		}
	}
}
