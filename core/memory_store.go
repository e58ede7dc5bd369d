package core

import (
	"context"
	"time"
)

// MemoryRecord is a long-term fact derived from a successful interaction.
type MemoryRecord struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Embedding []float64 `json:"embedding,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchOptions bounds a similarity search.
type SearchOptions struct {
	UserID    string  // restrict to one owner; empty matches records of any owner
	Limit     int     // result cap
	Threshold float64 // minimum cosine similarity
}

// MemoryStore persists memory records and retrieves them by embedding
// similarity. Implementations return results ordered by descending score.
type MemoryStore interface {
	StoreMemory(ctx context.Context, rec MemoryRecord) error
	SearchMemories(ctx context.Context, embedding []float64, opts SearchOptions) ([]SearchResult, error)
}
