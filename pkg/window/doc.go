// Package window decides when a session's active context must shrink and
// what the model-facing payload looks like.
//
// Invariants:
// - A triggered plan always retires at least one message.
// - The most recent KeepRecent messages stay active whenever possible.
// - Token estimates are deterministic for a given message.
package window
