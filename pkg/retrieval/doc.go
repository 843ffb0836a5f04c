// Package retrieval detects backward references in new messages and scores
// archived context for lexical relevance.
//
// Invariants:
// - Search never mutates session or archive state.
// - Scoring is a pluggable strategy; the default is keyword overlap.
package retrieval
