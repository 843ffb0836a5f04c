// Package cache ties session bookkeeping, archival, summarization, and
// retrieval into the turn-handling facade used by the translation layer.
//
// Invariants:
// - Mutations on one session are serialized by a per-session lock.
// - Archival for a session completes before that session's next archival
//   evaluation runs, but never blocks the turn that triggered it.
// - A summarizer failure degrades the summary, never the archival.
package cache
