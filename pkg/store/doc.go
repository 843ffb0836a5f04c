// Package store persists sessions and archives as JSON records with a
// SQLite metadata index.
//
// Invariants:
// - Session ids are validated and path-safe.
// - Record writes are atomic (temp file, fsync, rename).
// - Archives are immutable once created.
// - Listing and statistics read the index only, never record bodies.
package store
