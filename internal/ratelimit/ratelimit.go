// Package ratelimit provides a small per-key admission guard used by the
// registration and admin channels to keep a single misbehaving remote from
// hammering a listener's accept loop.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Limiter allows at most one request per key per window.
type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	clock  clockwork.Clock
	last   map[string]time.Time
}

// New creates a Limiter admitting at most one request per key every window.
func New(window time.Duration, clock clockwork.Clock) *Limiter {
	return &Limiter{
		window: window,
		clock:  clock,
		last:   make(map[string]time.Time),
	}
}

// Allow reports whether a request from key should be admitted now. Only an
// admitted request is recorded, so a rejected attempt does not push the
// window forward.
func (l *Limiter) Allow(key string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	last, seen := l.last[key]
	if seen && now.Sub(last) < l.window {
		return false
	}
	l.last[key] = now
	return true
}

// SetWindow updates the admission window.
func (l *Limiter) SetWindow(window time.Duration) {
	l.mu.Lock()
	l.window = window
	l.mu.Unlock()
}
