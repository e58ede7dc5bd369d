package persistence

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/memory"
	"github.com/hupe1980/agentcouncil/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("store unreachable")

// brokenStore fails every operation.
type brokenStore struct{}

func (brokenStore) CreateSession(context.Context, core.Session) (core.Session, error) {
	return core.Session{}, errDown
}
func (brokenStore) GetSession(context.Context, string) (core.Session, error) {
	return core.Session{}, errDown
}
func (brokenStore) ListSessions(context.Context, string, int) ([]core.Session, error) {
	return nil, errDown
}
func (brokenStore) UpdateTitle(context.Context, string, string) error { return errDown }
func (brokenStore) DeleteSession(context.Context, string) error       { return errDown }
func (brokenStore) AppendMessage(context.Context, core.Message) (core.Message, error) {
	return core.Message{}, errDown
}
func (brokenStore) History(context.Context, string, int) ([]core.Message, error) {
	return nil, errDown
}
func (brokenStore) MessageCount(context.Context, string) (int, error) { return 0, errDown }
func (brokenStore) Summary(context.Context, string) (string, int, error) {
	return "", 0, errDown
}
func (brokenStore) UpdateSummary(context.Context, string, string, int) error { return errDown }
func (brokenStore) AddFile(context.Context, core.FileRef) error              { return errDown }
func (brokenStore) Files(context.Context, string) ([]core.FileRef, error)    { return nil, errDown }

type brokenMemory struct{}

func (brokenMemory) StoreMemory(context.Context, core.MemoryRecord) error { return errDown }
func (brokenMemory) SearchMemories(context.Context, []float64, core.SearchOptions) ([]core.SearchResult, error) {
	return nil, errDown
}

func TestFacade_DegradesWhenStoreFails(t *testing.T) {
	ctx := context.Background()
	f := New(brokenStore{}, brokenMemory{}, nil)

	id := f.CreateSession(ctx, "title", "Shogunate", "")
	assert.Regexp(t, regexp.MustCompile(`^local-[0-9a-f]{12}$`), id)
	assert.True(t, IsLocal(id))

	assert.Empty(t, f.GetSessions(ctx, ""))
	assert.Equal(t, core.Message{}, f.SaveMessage(ctx, id, core.RoleUser, "", "hi"))
	assert.NotNil(t, f.GetHistory(ctx, id, 0))
	assert.Empty(t, f.GetHistory(ctx, id, 0))
	assert.False(t, f.DeleteSession(ctx, id))
	summary, count := f.GetSessionSummary(ctx, id)
	assert.Empty(t, summary)
	assert.Zero(t, count)
	f.UpdateSessionSummary(ctx, id, "s", 10)
	f.AddFile(ctx, id, "a.txt", 3)
	assert.Empty(t, f.Files(ctx, id))
	assert.Zero(t, f.MessageCount(ctx, id))
	assert.False(t, f.SaveMemory(ctx, "fact", ""))
	assert.Empty(t, f.RecallMemories(ctx, "fact", "", 0))
	assert.Equal(t, id, f.EnsureSession(ctx, id, "t", "", "").ID)
}

func TestFacade_NilStores(t *testing.T) {
	ctx := context.Background()
	f := New(nil, nil, nil)

	id := f.CreateSession(ctx, "x", "", "")
	assert.True(t, IsLocal(id))
	assert.Empty(t, f.GetHistory(ctx, id, 10))
	assert.False(t, f.SaveMemory(ctx, "x", ""))
}

func TestFacade_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := New(session.NewInMemoryStore(), memory.NewInMemoryStore(), nil)

	id := f.CreateSession(ctx, "chat", "Neon Tokyo", "u1")
	require.False(t, IsLocal(id))

	f.SaveMessage(ctx, id, core.RoleUser, "", "question")
	f.SaveMessage(ctx, id, core.RoleAssistant, "Planner", "plan")
	hist := f.GetHistory(ctx, id, 0)
	require.Len(t, hist, 2)
	assert.Equal(t, "Planner", hist[1].Agent)
	assert.Equal(t, 2, f.MessageCount(ctx, id))

	f.UpdateSessionSummary(ctx, id, "gist", 10)
	summary, count := f.GetSessionSummary(ctx, id)
	assert.Equal(t, "gist", summary)
	assert.Equal(t, 10, count)

	f.AddFile(ctx, id, "data.csv", 2048)
	files := f.Files(ctx, id)
	require.Len(t, files, 1)
	assert.Equal(t, 2048, files[0].Size)

	sessions := f.GetSessions(ctx, "u1")
	require.Len(t, sessions, 1)
	assert.Equal(t, "chat", sessions[0].Title)

	assert.True(t, f.DeleteSession(ctx, id))
	assert.Empty(t, f.GetHistory(ctx, id, 0))
}

func TestFacade_EnsureSessionSetsMissingTitle(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemoryStore()
	f := New(store, nil, nil)

	// a message for an unknown session creates it lazily without a title
	f.SaveMessage(ctx, "s1", core.RoleUser, "", "hello")
	s := f.EnsureSession(ctx, "s1", "hello", "Shogunate", "")
	assert.Equal(t, "hello", s.Title)

	s = f.EnsureSession(ctx, "s1", "other", "", "")
	assert.Equal(t, "hello", s.Title)
}

func TestFacade_RecallUsesHashFallback(t *testing.T) {
	ctx := context.Background()
	f := New(nil, memory.NewInMemoryStore(), nil)

	content := "SUCCESSFUL SOLUTION for: sort a list"
	require.True(t, f.SaveMemory(ctx, content, ""))
	assert.True(t, f.SaveMemory(ctx, "something unrelated", ""))

	got := f.RecallMemories(ctx, content, "", 0)
	require.NotEmpty(t, got)
	assert.Equal(t, content, got[0])
	assert.Empty(t, f.RecallMemories(ctx, "   ", "", 0))
}

func TestFacade_PerSessionSerialization(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemoryStore()
	f := New(store, nil, nil)

	var wg sync.WaitGroup
	for s := 0; s < 3; s++ {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(s int) {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					f.SaveMessage(ctx, fmt.Sprintf("s%d", s), core.RoleUser, "", "m")
				}
			}(s)
		}
	}
	wg.Wait()

	for s := 0; s < 3; s++ {
		hist := f.GetHistory(ctx, fmt.Sprintf("s%d", s), 0)
		require.Len(t, hist, 40)
		for i := 1; i < len(hist); i++ {
			assert.False(t, hist[i].CreatedAt.Before(hist[i-1].CreatedAt))
		}
	}
}

func TestFacade_DeleteSessionDropsLock(t *testing.T) {
	ctx := context.Background()
	f := New(session.NewInMemoryStore(), nil, nil)

	for i := 0; i < 5; i++ {
		id := f.CreateSession(ctx, "t", "", "u1")
		f.SaveMessage(ctx, id, core.RoleUser, "", "m")
		require.True(t, f.DeleteSession(ctx, id))
	}
	kept := f.CreateSession(ctx, "kept", "", "u1")
	f.SaveMessage(ctx, kept, core.RoleUser, "", "m")

	f.mu.Lock()
	n := len(f.locks)
	_, ok := f.locks[kept]
	f.mu.Unlock()
	assert.Equal(t, 1, n, "deleted sessions must not leave locks behind")
	assert.True(t, ok)

	// a failed delete drops the entry too
	broken := New(brokenStore{}, nil, nil)
	broken.SaveMessage(ctx, "s1", core.RoleUser, "", "m")
	assert.False(t, broken.DeleteSession(ctx, "s1"))
	broken.mu.Lock()
	defer broken.mu.Unlock()
	assert.Empty(t, broken.locks)
}

func TestLocalSessionID(t *testing.T) {
	now := time.Unix(1700000000, 0)
	a := LocalSessionID("t", now)
	b := LocalSessionID("t", now)
	c := LocalSessionID("t", now.Add(time.Nanosecond))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, len(LocalSessionPrefix)+12)
}
