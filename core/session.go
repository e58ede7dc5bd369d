package core

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned by stores when a session id is unknown.
var ErrSessionNotFound = errors.New("session not found")

// Role identifies the author class of a message.
type Role string

const (
	// RoleUser marks messages submitted by the user.
	RoleUser Role = "user"
	// RoleAssistant marks messages produced by a council agent.
	RoleAssistant Role = "assistant"
	// RoleSystem marks instructions and injected context. It is never persisted.
	RoleSystem Role = "system"
)

// Session identifies one conversation thread.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Theme        string    `json:"theme,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	SummaryCount int       `json:"summary_count,omitempty"` // message count when Summary was generated
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is one turn in a session. Messages are append-only and ordered by
// (CreatedAt, Seq); stores assign Seq on append.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Role      Role      `json:"role"`
	Agent     string    `json:"agent,omitempty"` // council label, empty for user turns
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// FileRef records a file attached earlier in a session by name and size only.
type FileRef struct {
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore persists sessions, their message log, the cached summary and
// the file cache.
//
// Contract:
//   - AppendMessage assigns ID (if empty), Seq and CreatedAt, never rewrites
//     earlier messages and keeps CreatedAt non-decreasing within a session
//   - History returns the most recent limit messages (all when limit <= 0) in
//     ascending order
//   - DeleteSession cascades to messages, summary and file references
type SessionStore interface {
	CreateSession(ctx context.Context, s Session) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]Session, error)
	UpdateTitle(ctx context.Context, id, title string) error
	DeleteSession(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, msg Message) (Message, error)
	History(ctx context.Context, sessionID string, limit int) ([]Message, error)
	MessageCount(ctx context.Context, sessionID string) (int, error)

	Summary(ctx context.Context, sessionID string) (summary string, count int, err error)
	UpdateSummary(ctx context.Context, sessionID, summary string, count int) error

	AddFile(ctx context.Context, ref FileRef) error
	Files(ctx context.Context, sessionID string) ([]FileRef, error)
}
