package gateway

import (
	"sync"
	"time"
)

// RateLimiter implements sliding window rate limiting for one remote.
type RateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxConcurrent     int
	requests          []time.Time
	concurrent        int
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(requestsPerMinute, maxConcurrent int) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
	}
}

// Allow checks whether a request fits the limits and, if so, records its
// start. The caller must pair every allowed request with Done.
func (r *RateLimiter) Allow() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrent >= r.maxConcurrent {
		return false, "too many concurrent requests"
	}

	now := time.Now()
	cutoff := now.Add(-time.Minute)
	valid := r.requests[:0]
	for _, t := range r.requests {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.requests = valid

	if len(r.requests) >= r.requestsPerMinute {
		return false, "rate limit exceeded"
	}

	r.requests = append(r.requests, now)
	r.concurrent++
	return true, ""
}

// Done records the end of an allowed request.
func (r *RateLimiter) Done() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrent > 0 {
		r.concurrent--
	}
}
