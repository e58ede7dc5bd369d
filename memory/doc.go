// Package memory contains the long-term memory implementations: an in-memory
// core.MemoryStore and the embedders that turn text into vectors. The store
// interface and SearchResult type reside in the core package; the durable
// store lives in package sqlite.
//
// Embeddings come from a provider (see model/openai.Embedder). When the
// provider is unavailable a deterministic hash embedding keeps recall and
// archival working, with reduced semantic quality.
package memory
