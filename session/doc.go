// Package session houses concrete implementations of core.SessionStore. The
// interface itself (and the Session/Message types) live in the core package;
// only the wiring layer decides which backend to instantiate. The durable
// backend lives in package sqlite.
package session
