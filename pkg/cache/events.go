package cache

import (
	"sync"
	"time"
)

// Event types published by the manager.
const (
	EventArchiveCreated = "archive.created"
	EventSessionDeleted = "session.deleted"
	EventCleanupRun     = "cleanup.run"
)

// Event describes a state change for management tooling.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	ArchiveID string    `json:"archive_id,omitempty"`
	Deleted   int       `json:"deleted,omitempty"`
	Fallback  bool      `json:"fallback,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventBus fans events out to subscribers. Slow subscribers drop events
// rather than stalling publishers.
type EventBus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewEventBus creates an event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a subscriber. The returned cancel function must be
// called to release it.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers without blocking.
func (b *EventBus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
