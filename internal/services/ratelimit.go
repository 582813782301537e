package services

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window counter keyed by an arbitrary string
// (phone number or client IP). Entries older than the window are pruned
// before every check so the maps stay bounded.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	entries map[string][]time.Time
	now     func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		window:  window,
		limit:   limit,
		entries: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Check reports whether the key is within its limit, without recording
// anything. Callers that gate on several limiters check all of them
// first and record only once every check passes.
func (r *RateLimiter) Check(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prune(key, r.now())) < r.limit
}

// Record adds an event for the key.
func (r *RateLimiter) Record(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.entries[key] = append(r.prune(key, now), now)
}

// Allow is Check followed by Record when the check passes. A rejected
// caller is not recorded, so it does not extend its own penalty.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	recent := r.prune(key, now)
	if len(recent) >= r.limit {
		return false
	}
	r.entries[key] = append(recent, now)
	return true
}

// Sweep drops all keys whose every entry has left the window.
func (r *RateLimiter) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for key := range r.entries {
		if len(r.prune(key, now)) == 0 {
			delete(r.entries, key)
		}
	}
}

func (r *RateLimiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	stamps := r.entries[key]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(r.entries, key)
		return nil
	}
	r.entries[key] = kept
	return kept
}
