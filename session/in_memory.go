package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/internal/idgen"
)

// Compile-time interface assertion.
var _ core.SessionStore = (*InMemoryStore)(nil)

type sessionData struct {
	session  core.Session
	messages []core.Message
	files    []core.FileRef
	nextSeq  int64
}

// InMemoryStore is a volatile SessionStore implementation storing sessions in
// a process local map. It is safe for concurrent access and best suited for
// tests or single-process deployments. Returned values are copies.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionData
	now      func() time.Time
}

// NewInMemoryStore constructs an empty in‑memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*sessionData), now: time.Now}
}

// CreateSession stores a new session. An empty ID is generated; an existing
// ID is returned unchanged.
func (s *InMemoryStore) CreateSession(_ context.Context, sess core.Session) (core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = idgen.New()
	}
	if existing, ok := s.sessions[sess.ID]; ok {
		return existing.session, nil
	}
	now := s.now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = sess.CreatedAt
	s.sessions[sess.ID] = &sessionData{session: sess}

	return sess, nil
}

// GetSession returns the session with the given id.
func (s *InMemoryStore) GetSession(_ context.Context, id string) (core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.sessions[id]
	if !ok {
		return core.Session{}, core.ErrSessionNotFound
	}
	return d.session, nil
}

// ListSessions returns sessions newest first. An empty userID lists all.
func (s *InMemoryStore) ListSessions(_ context.Context, userID string, limit int) ([]core.Session, error) {
	s.mu.RLock()
	out := make([]core.Session, 0, len(s.sessions))
	for _, d := range s.sessions {
		if userID != "" && d.session.UserID != userID {
			continue
		}
		out = append(out, d.session)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateTitle renames a session.
func (s *InMemoryStore) UpdateTitle(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.sessions[id]
	if !ok {
		return core.ErrSessionNotFound
	}
	d.session.Title = title
	d.session.UpdatedAt = s.now().UTC()
	return nil
}

// DeleteSession removes a session with its messages, summary and files.
func (s *InMemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return core.ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// AppendMessage appends msg to its session, creating the session lazily.
func (s *InMemoryStore) AppendMessage(_ context.Context, msg core.Message) (core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.getOrCreateLocked(msg.SessionID)
	if msg.ID == "" {
		msg.ID = idgen.New()
	}
	now := s.now().UTC()
	if n := len(d.messages); n > 0 && now.Before(d.messages[n-1].CreatedAt) {
		now = d.messages[n-1].CreatedAt
	}
	d.nextSeq++
	msg.Seq = d.nextSeq
	msg.CreatedAt = now
	d.messages = append(d.messages, msg)
	d.session.UpdatedAt = now

	return msg, nil
}

// History returns the most recent limit messages in ascending order.
func (s *InMemoryStore) History(_ context.Context, sessionID string, limit int) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.sessions[sessionID]
	if !ok {
		return []core.Message{}, nil
	}
	msgs := d.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]core.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// MessageCount returns the number of messages in a session.
func (s *InMemoryStore) MessageCount(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.sessions[sessionID]; ok {
		return len(d.messages), nil
	}
	return 0, nil
}

// Summary returns the cached summary and the message count it was built at.
func (s *InMemoryStore) Summary(_ context.Context, sessionID string) (string, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.sessions[sessionID]; ok {
		return d.session.Summary, d.session.SummaryCount, nil
	}
	return "", 0, nil
}

// UpdateSummary stores a regenerated session summary.
func (s *InMemoryStore) UpdateSummary(_ context.Context, sessionID, summary string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.getOrCreateLocked(sessionID)
	d.session.Summary = summary
	d.session.SummaryCount = count
	return nil
}

// AddFile records an attached file; a repeated name replaces the old entry.
func (s *InMemoryStore) AddFile(_ context.Context, ref core.FileRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.getOrCreateLocked(ref.SessionID)
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = s.now().UTC()
	}
	for i, f := range d.files {
		if f.Name == ref.Name {
			d.files[i] = ref
			return nil
		}
	}
	d.files = append(d.files, ref)
	return nil
}

// Files lists the file references of a session in attach order.
func (s *InMemoryStore) Files(_ context.Context, sessionID string) ([]core.FileRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.sessions[sessionID]
	if !ok {
		return []core.FileRef{}, nil
	}
	out := make([]core.FileRef, len(d.files))
	copy(out, d.files)
	return out, nil
}

// getOrCreateLocked returns the session data, creating it lazily; caller must
// already hold the write lock.
func (s *InMemoryStore) getOrCreateLocked(id string) *sessionData {
	if d, ok := s.sessions[id]; ok {
		return d
	}
	now := s.now().UTC()
	d := &sessionData{session: core.Session{ID: id, CreatedAt: now, UpdatedAt: now}}
	s.sessions[id] = d
	return d
}
