package store

import "errors"

var (
	// ErrNotFound indicates an unknown session or archive id.
	ErrNotFound = errors.New("not found")

	// ErrIDConflict indicates an attempt to create a session id that
	// already exists.
	ErrIDConflict = errors.New("session id already exists")

	// ErrCorrupt indicates a persisted record that failed its integrity
	// check on read. Callers should skip the record and report, not crash.
	ErrCorrupt = errors.New("record failed integrity check")
)
