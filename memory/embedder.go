package memory

import (
	"context"
	"crypto/sha256"

	"github.com/hupe1980/agentcouncil/logging"
)

// Dimensions is the width of every embedding vector.
const Dimensions = 1536

// Embedder turns text into a fixed-width vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// HashEmbedder derives a deterministic vector from the SHA-256 digest of the
// text. Identical texts map to identical vectors; it carries no semantics.
type HashEmbedder struct {
	Dimensions int
}

// Embed implements Embedder. It never fails.
func (h HashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	return HashEmbedding(text, h.Dimensions), nil
}

// HashEmbedding stretches the SHA-256 digest of text to dims values in [-1, 1].
func HashEmbedding(text string, dims int) []float64 {
	if dims <= 0 {
		dims = Dimensions
	}
	sum := sha256.Sum256([]byte(text))
	out := make([]float64, dims)
	for i := range out {
		out[i] = (float64(sum[i%len(sum)])/255.0)*2 - 1
	}
	return out
}

// FallbackEmbedder asks Primary first and uses the hash embedding when it is
// missing or fails.
type FallbackEmbedder struct {
	Primary Embedder
	Logger  logging.Logger
}

// NewFallbackEmbedder wraps primary (which may be nil).
func NewFallbackEmbedder(primary Embedder, logger logging.Logger) *FallbackEmbedder {
	return &FallbackEmbedder{Primary: primary, Logger: logging.OrNoOp(logger)}
}

// Embed implements Embedder. It never fails.
func (f *FallbackEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if f.Primary != nil {
		vec, err := f.Primary.Embed(ctx, text)
		if err == nil && len(vec) > 0 {
			return vec, nil
		}
		if err != nil {
			logging.OrNoOp(f.Logger).Warn("embedding provider failed, using hash fallback", "error", err)
		}
	}
	return HashEmbedding(text, Dimensions), nil
}
