// Package summarizer is the call boundary to the external text-generation
// collaborator that condenses retired conversation context.
//
// Invariants:
// - Every call carries a timeout; nothing blocks indefinitely.
// - Concurrent summarizations are bounded by a semaphore (default 1).
// - The adapter is stateless and never retries; fallback is the caller's
//   decision.
package summarizer
