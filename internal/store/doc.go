// ABOUTME: Package doc for the dayline-server persistence layer
// ABOUTME: Documents the SQLite-backed store and its error conventions

// Package store persists the device registry, social graph, encrypted relay
// payloads, published timelines, and the shared rate-limit counters.
//
// The canonical implementation is SQLiteStore (modernc.org/sqlite, WAL mode,
// schema created at open). All message and event payloads are stored as the
// opaque ciphertext the clients produced; the server never inspects them.
//
// Methods return ErrNotFound and friends as sentinel errors so callers can
// branch with errors.Is without string matching.
package store
