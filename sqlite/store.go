package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/internal/idgen"
)

// Compile-time interface assertions.
var (
	_ core.SessionStore = (*Store)(nil)
	_ core.MemoryStore  = (*Store)(nil)
)

// timeFormat is fixed width so text comparison matches time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Store implements the session and memory stores on one database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore wraps an opened and migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(v string) time.Time {
	t, err := time.Parse(timeFormat, v)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, v)
	}
	return t
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

// CreateSession inserts a session. An existing id is returned unchanged.
func (s *Store) CreateSession(ctx context.Context, sess core.Session) (core.Session, error) {
	if sess.ID == "" {
		sess.ID = idgen.New()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now().UTC()
	}
	sess.UpdatedAt = sess.CreatedAt

	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO sessions (id, title, theme, user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, nullString(sess.Theme), nullString(sess.UserID), formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt))
	if err != nil {
		return core.Session{}, fmt.Errorf("insert session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.GetSession(ctx, sess.ID)
	}
	return sess, nil
}

const sessionColumns = `id, title, theme, user_id, summary, summary_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (core.Session, error) {
	var (
		sess                 core.Session
		theme, userID        sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&sess.ID, &sess.Title, &theme, &userID, &sess.Summary, &sess.SummaryCount, &createdAt, &updatedAt); err != nil {
		return core.Session{}, err
	}
	sess.Theme = theme.String
	sess.UserID = userID.String
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	return sess, nil
}

// GetSession loads one session.
func (s *Store) GetSession(ctx context.Context, id string) (core.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Session{}, core.ErrSessionNotFound
	}
	if err != nil {
		return core.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns sessions newest first. An empty userID lists all.
func (s *Store) ListSessions(ctx context.Context, userID string, limit int) ([]core.Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE (? = '' OR user_id = ?) ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []core.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// UpdateTitle renames a session.
func (s *Store) UpdateTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`, title, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes a session with its messages and files.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM messages WHERE session_id = ?`,
		`DELETE FROM files WHERE session_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete session children: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrSessionNotFound
	}
	return tx.Commit()
}

func (s *Store) ensureSession(ctx context.Context, q interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, id string, now time.Time) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)`,
		id, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

// AppendMessage appends msg, assigning ID, Seq and a non-decreasing CreatedAt.
func (s *Store) AppendMessage(ctx context.Context, msg core.Message) (core.Message, error) {
	if msg.ID == "" {
		msg.ID = idgen.New()
	}
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Message{}, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.ensureSession(ctx, tx, msg.SessionID, now); err != nil {
		return core.Message{}, err
	}

	var (
		lastSeq int64
		lastAt  sql.NullString
	)
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0), MAX(created_at) FROM messages WHERE session_id = ?`, msg.SessionID).
		Scan(&lastSeq, &lastAt); err != nil {
		return core.Message{}, fmt.Errorf("read last seq: %w", err)
	}
	if lastAt.Valid {
		if prev := parseTime(lastAt.String); now.Before(prev) {
			now = prev
		}
	}
	msg.Seq = lastSeq + 1
	msg.CreatedAt = now

	if _, err := tx.ExecContext(ctx, `INSERT INTO messages (id, session_id, seq, role, agent, content, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Seq, string(msg.Role), nullString(msg.Agent), msg.Content, formatTime(now)); err != nil {
		return core.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, formatTime(now), msg.SessionID); err != nil {
		return core.Message{}, fmt.Errorf("touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Message{}, fmt.Errorf("commit append: %w", err)
	}
	return msg, nil
}

// History returns the most recent limit messages in ascending order.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]core.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, seq, role, agent, content, created_at FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	out := []core.Message{}
	for rows.Next() {
		var (
			msg       core.Message
			role      string
			agent     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&msg.ID, &msg.Seq, &role, &agent, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.SessionID = sessionID
		msg.Role = core.Role(role)
		msg.Agent = agent.String
		msg.CreatedAt = parseTime(createdAt)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// MessageCount returns the number of messages in a session.
func (s *Store) MessageCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// Summary returns the cached summary and the message count it was built at.
func (s *Store) Summary(ctx context.Context, sessionID string) (string, int, error) {
	var (
		summary string
		count   int
	)
	err := s.db.QueryRowContext(ctx, `SELECT summary, summary_count FROM sessions WHERE id = ?`, sessionID).Scan(&summary, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("get summary: %w", err)
	}
	return summary, count, nil
}

// UpdateSummary stores a regenerated session summary.
func (s *Store) UpdateSummary(ctx context.Context, sessionID, summary string, count int) error {
	now := s.now().UTC()
	if err := s.ensureSession(ctx, s.db, sessionID, now); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET summary = ?, summary_count = ? WHERE id = ?`, summary, count, sessionID); err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	return nil
}

// AddFile records an attached file; a repeated name replaces the old entry.
func (s *Store) AddFile(ctx context.Context, ref core.FileRef) error {
	now := s.now().UTC()
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = now
	}
	if err := s.ensureSession(ctx, s.db, ref.SessionID, now); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO files (session_id, name, size, created_at) VALUES (?, ?, ?, ?)
ON CONFLICT (session_id, name) DO UPDATE SET size = excluded.size, created_at = excluded.created_at`,
		ref.SessionID, ref.Name, ref.Size, formatTime(ref.CreatedAt))
	if err != nil {
		return fmt.Errorf("add file: %w", err)
	}
	return nil
}

// Files lists the file references of a session in attach order.
func (s *Store) Files(ctx context.Context, sessionID string) ([]core.FileRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, size, created_at FROM files WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	out := []core.FileRef{}
	for rows.Next() {
		ref := core.FileRef{SessionID: sessionID}
		var createdAt string
		if err := rows.Scan(&ref.Name, &ref.Size, &createdAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		ref.CreatedAt = parseTime(createdAt)
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return out, nil
}

// StoreMemory inserts a memory record with its embedding encoded as JSON.
func (s *Store) StoreMemory(ctx context.Context, rec core.MemoryRecord) error {
	if rec.ID == "" {
		rec.ID = idgen.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	emb, err := json.Marshal(rec.Embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO memories (id, content, embedding, user_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Content, string(emb), nullString(rec.UserID), formatTime(rec.CreatedAt)); err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// SearchMemories scores the candidate records by cosine similarity.
func (s *Store) SearchMemories(ctx context.Context, embedding []float64, opts core.SearchOptions) ([]core.SearchResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, embedding, user_id, created_at FROM memories WHERE (? = '' OR user_id IS NULL OR user_id = ?)`,
		opts.UserID, opts.UserID)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var records []core.MemoryRecord
	for rows.Next() {
		var (
			rec       core.MemoryRecord
			emb       string
			userID    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Content, &emb, &userID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		if err := json.Unmarshal([]byte(emb), &rec.Embedding); err != nil {
			continue
		}
		rec.UserID = userID.String
		rec.CreatedAt = parseTime(createdAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}

	return core.RankMemories(records, embedding, opts), nil
}
