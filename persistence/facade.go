package persistence

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/logging"
	"github.com/hupe1980/agentcouncil/memory"
)

// LocalSessionPrefix marks ids minted while the session store was unusable.
const LocalSessionPrefix = "local-"

// Options configures a Facade.
type Options struct {
	// SessionListLimit caps GetSessions (newest first).
	SessionListLimit int
	// RecallLimit is the default number of recalled memories.
	RecallLimit int
	// RecallThreshold is the minimum cosine similarity for recall.
	RecallThreshold float64
	// Timeout bounds every store call; 0 disables it.
	Timeout time.Duration

	Logger logging.Logger
}

// Facade is the never-failing persistence surface of the council.
type Facade struct {
	sessions core.SessionStore
	memories core.MemoryStore
	embedder memory.Embedder
	opts     Options
	logger   logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	now   func() time.Time
}

// New creates a Facade. Any of the stores may be nil, which disables the
// matching operations. A nil embedder uses the hash fallback.
func New(sessions core.SessionStore, memories core.MemoryStore, embedder memory.Embedder, optFns ...func(o *Options)) *Facade {
	opts := Options{
		SessionListLimit: 20,
		RecallLimit:      3,
		RecallThreshold:  0.7,
		Timeout:          10 * time.Second,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if embedder == nil {
		embedder = memory.HashEmbedder{Dimensions: memory.Dimensions}
	}

	return &Facade{
		sessions: sessions,
		memories: memories,
		embedder: embedder,
		opts:     opts,
		logger:   logging.OrNoOp(opts.Logger),
		locks:    map[string]*sync.Mutex{},
		now:      time.Now,
	}
}

// lock serializes writes of one session and returns the unlock function.
// DeleteSession drops the session's entry.
func (f *Facade) lock(sessionID string) func() {
	f.mu.Lock()
	l, ok := f.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		f.locks[sessionID] = l
	}
	f.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (f *Facade) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.opts.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, f.opts.Timeout)
}

// LocalSessionID derives a non-persistent session id from title and time.
func LocalSessionID(title string, now time.Time) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s%d", title, now.UnixNano())))
	return LocalSessionPrefix + hex.EncodeToString(sum[:])[:12]
}

// IsLocal reports whether id was minted without a session store.
func IsLocal(id string) bool { return strings.HasPrefix(id, LocalSessionPrefix) }

// CreateSession creates a session and returns its id. Without a working
// store a local id is returned.
func (f *Facade) CreateSession(ctx context.Context, title, theme, userID string) string {
	if f.sessions != nil {
		ctx, cancel := f.withTimeout(ctx)
		defer cancel()
		s, err := f.sessions.CreateSession(ctx, core.Session{Title: title, Theme: theme, UserID: userID})
		if err == nil {
			return s.ID
		}
		f.logger.Warn("create session failed, using local id", "error", err)
	}
	return LocalSessionID(title, f.now())
}

// EnsureSession makes sure id exists, creating it with the given metadata.
// It returns the (possibly existing) session; a zero Session when the store
// is unusable.
func (f *Facade) EnsureSession(ctx context.Context, id, title, theme, userID string) core.Session {
	if f.sessions == nil || id == "" {
		return core.Session{ID: id}
	}
	defer f.lock(id)()
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	s, err := f.sessions.CreateSession(ctx, core.Session{ID: id, Title: title, Theme: theme, UserID: userID})
	if err != nil {
		f.logger.Warn("ensure session failed", "session_id", id, "error", err)
		return core.Session{ID: id}
	}
	if s.Title == "" && title != "" {
		if err := f.sessions.UpdateTitle(ctx, id, title); err == nil {
			s.Title = title
		}
	}
	return s
}

// GetSessions lists recent sessions, newest first.
func (f *Facade) GetSessions(ctx context.Context, userID string) []core.Session {
	if f.sessions == nil {
		return []core.Session{}
	}
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()
	out, err := f.sessions.ListSessions(ctx, userID, f.opts.SessionListLimit)
	if err != nil {
		f.logger.Warn("list sessions failed", "error", err)
		return []core.Session{}
	}
	return out
}

// SaveMessage appends a message. The zero Message is returned on failure.
func (f *Facade) SaveMessage(ctx context.Context, sessionID string, role core.Role, agent, content string) core.Message {
	if f.sessions == nil || sessionID == "" {
		return core.Message{}
	}
	defer f.lock(sessionID)()
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	msg, err := f.sessions.AppendMessage(ctx, core.Message{SessionID: sessionID, Role: role, Agent: agent, Content: content})
	if err != nil {
		f.logger.Warn("save message failed", "session_id", sessionID, "agent", agent, "error", err)
		return core.Message{}
	}
	return msg
}

// GetHistory returns the last limit messages (all when limit <= 0).
func (f *Facade) GetHistory(ctx context.Context, sessionID string, limit int) []core.Message {
	if f.sessions == nil || sessionID == "" {
		return []core.Message{}
	}
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()
	out, err := f.sessions.History(ctx, sessionID, limit)
	if err != nil {
		f.logger.Warn("get history failed", "session_id", sessionID, "error", err)
		return []core.Message{}
	}
	return out
}

// MessageCount returns the number of stored messages of a session.
func (f *Facade) MessageCount(ctx context.Context, sessionID string) int {
	if f.sessions == nil || sessionID == "" {
		return 0
	}
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()
	n, err := f.sessions.MessageCount(ctx, sessionID)
	if err != nil {
		f.logger.Warn("message count failed", "session_id", sessionID, "error", err)
		return 0
	}
	return n
}

// DeleteSession deletes a session and reports success.
func (f *Facade) DeleteSession(ctx context.Context, sessionID string) bool {
	if f.sessions == nil || sessionID == "" {
		return false
	}
	unlock := f.lock(sessionID)
	defer func() {
		f.mu.Lock()
		delete(f.locks, sessionID)
		f.mu.Unlock()
		unlock()
	}()
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()
	if err := f.sessions.DeleteSession(ctx, sessionID); err != nil {
		f.logger.Warn("delete session failed", "session_id", sessionID, "error", err)
		return false
	}
	return true
}

// GetSessionSummary returns the cached summary and its message count.
func (f *Facade) GetSessionSummary(ctx context.Context, sessionID string) (string, int) {
	if f.sessions == nil || sessionID == "" {
		return "", 0
	}
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()
	summary, count, err := f.sessions.Summary(ctx, sessionID)
	if err != nil {
		f.logger.Warn("get summary failed", "session_id", sessionID, "error", err)
		return "", 0
	}
	return summary, count
}

// UpdateSessionSummary persists a regenerated summary.
func (f *Facade) UpdateSessionSummary(ctx context.Context, sessionID, summary string, count int) {
	if f.sessions == nil || sessionID == "" {
		return
	}
	defer f.lock(sessionID)()
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()
	if err := f.sessions.UpdateSummary(ctx, sessionID, summary, count); err != nil {
		f.logger.Warn("update summary failed", "session_id", sessionID, "error", err)
	}
}

// AddFile records an attached file in the session's file cache.
func (f *Facade) AddFile(ctx context.Context, sessionID, name string, size int) {
	if f.sessions == nil || sessionID == "" {
		return
	}
	defer f.lock(sessionID)()
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()
	if err := f.sessions.AddFile(ctx, core.FileRef{SessionID: sessionID, Name: name, Size: size}); err != nil {
		f.logger.Warn("add file failed", "session_id", sessionID, "file", name, "error", err)
	}
}

// Files lists the session's file cache.
func (f *Facade) Files(ctx context.Context, sessionID string) []core.FileRef {
	if f.sessions == nil || sessionID == "" {
		return []core.FileRef{}
	}
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()
	out, err := f.sessions.Files(ctx, sessionID)
	if err != nil {
		f.logger.Warn("list files failed", "session_id", sessionID, "error", err)
		return []core.FileRef{}
	}
	return out
}

// SaveMemory embeds and archives content.
func (f *Facade) SaveMemory(ctx context.Context, content, userID string) bool {
	if f.memories == nil || strings.TrimSpace(content) == "" {
		return false
	}
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	emb, err := f.embedder.Embed(ctx, content)
	if err != nil {
		f.logger.Warn("embed memory failed", "error", err)
		return false
	}
	if err := f.memories.StoreMemory(ctx, core.MemoryRecord{Content: content, Embedding: emb, UserID: userID}); err != nil {
		f.logger.Warn("save memory failed", "error", err)
		return false
	}
	return true
}

// RecallMemories returns the content of the most similar memories. A limit
// <= 0 uses the configured default.
func (f *Facade) RecallMemories(ctx context.Context, query, userID string, limit int) []string {
	if f.memories == nil || strings.TrimSpace(query) == "" {
		return []string{}
	}
	if limit <= 0 {
		limit = f.opts.RecallLimit
	}
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	emb, err := f.embedder.Embed(ctx, query)
	if err != nil {
		f.logger.Warn("embed query failed", "error", err)
		return []string{}
	}
	res, err := f.memories.SearchMemories(ctx, emb, core.SearchOptions{UserID: userID, Limit: limit, Threshold: f.opts.RecallThreshold})
	if err != nil {
		f.logger.Warn("recall memories failed", "error", err)
		return []string{}
	}
	out := make([]string, 0, len(res))
	for _, r := range res {
		out = append(out, r.Content)
	}
	return out
}
