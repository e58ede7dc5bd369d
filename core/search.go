package core

import (
	"math"
	"sort"
)

// SearchResult represents a retrieved memory item with its similarity score.
type SearchResult struct {
	ID      string
	Content string
	Score   float64
}

// CosineSimilarity returns the cosine of the angle between a and b. Vectors of
// different length or zero magnitude score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// RankMemories scores records against query and returns the best matches at
// or above opts.Threshold, highest first, capped at opts.Limit.
func RankMemories(records []MemoryRecord, query []float64, opts SearchOptions) []SearchResult {
	results := make([]SearchResult, 0, len(records))
	for _, rec := range records {
		if opts.UserID != "" && rec.UserID != "" && rec.UserID != opts.UserID {
			continue
		}
		score := CosineSimilarity(rec.Embedding, query)
		if score < opts.Threshold {
			continue
		}
		results = append(results, SearchResult{ID: rec.ID, Content: rec.Content, Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}
