// Package core provides the foundational domain types and store interfaces
// used across the council. It defines:
//
//   - Sessions and their append-only message log
//   - File references remembered per session
//   - Memory records used for long-term recall
//   - Stream events emitted to clients during a council run
//   - The per-run advisory token budget
//
// Persistence and orchestration live in other packages; core only exposes the
// small interfaces they implement (SessionStore, MemoryStore).
package core
