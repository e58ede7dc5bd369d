// Package persistence is the degrading facade the council controller talks
// to. It wraps a core.SessionStore, a core.MemoryStore and an embedder and
// never returns errors: failures are logged and replaced by empty results,
// no-op writes and local session ids so a run keeps going without storage.
//
// Writes are serialized per session; different sessions never contend on a
// shared lock.
package persistence
