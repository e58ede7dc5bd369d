package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/internal/idgen"
)

// Compile-time interface assertion.
var _ core.MemoryStore = (*InMemoryStore)(nil)

// InMemoryStore is a process‑local MemoryStore.
//
// Concurrency: protected by RWMutex.
// Search: linear scan scoring every record by cosine similarity. Suitable for
// small archives; the sqlite store scales the same contract to disk.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []core.MemoryRecord
}

// NewInMemoryStore creates a new in-memory memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// StoreMemory appends a record, assigning ID and CreatedAt when empty.
func (m *InMemoryStore) StoreMemory(_ context.Context, rec core.MemoryRecord) error {
	if rec.ID == "" {
		rec.ID = idgen.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Embedding = append([]float64(nil), rec.Embedding...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// SearchMemories ranks every stored record against embedding.
func (m *InMemoryStore) SearchMemories(_ context.Context, embedding []float64, opts core.SearchOptions) ([]core.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return core.RankMemories(m.records, embedding, opts), nil
}

// Len returns the number of stored records.
func (m *InMemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
