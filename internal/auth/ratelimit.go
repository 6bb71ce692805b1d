package auth

import (
	"sync"
	"time"
)

const (
	// DefaultRateLimit and DefaultRateWindow bound each client identity to
	// 100 requests per 60 seconds.
	DefaultRateLimit  = 100
	DefaultRateWindow = 60 * time.Second

	limiterCleanupInterval = 5 * time.Minute
)

// RateLimiter is a strict fixed-window counter per client identity. Counts
// reset entirely when the window boundary is crossed; a burst of up to ~2x
// the limit straddling a boundary is the documented trade-off over smoothing
// algorithms. Check-and-increment is atomic under one lock, so concurrent
// callers can never push a window past its limit.
type RateLimiter struct {
	mu          sync.Mutex
	windows     map[string]*rateWindow
	limit       int
	window      time.Duration
	lastCleanup time.Time

	now func() time.Time // injectable clock for tests
}

// rateWindow tracks one client identity. Created on first sight; idle
// entries are expired inline so the map stays bounded.
type rateWindow struct {
	start time.Time
	count int
}

// NewRateLimiter creates a limiter. Non-positive arguments select defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{
		windows: make(map[string]*rateWindow),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Window reports the configured window length, for Retry-After hints.
func (rl *RateLimiter) Window() time.Duration {
	return rl.window
}

// Allow records a request for identity and reports whether it is within the
// window limit. On deny the caller must reject the request without invoking
// the tool pipeline.
func (rl *RateLimiter) Allow(identity string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	// lastCleanup starts zero and tracks the limiter's own clock, which
	// tests may inject.
	if rl.lastCleanup.IsZero() {
		rl.lastCleanup = now
	}
	if now.Sub(rl.lastCleanup) > limiterCleanupInterval {
		for id, w := range rl.windows {
			if now.Sub(w.start) > rl.window {
				delete(rl.windows, id)
			}
		}
		rl.lastCleanup = now
	}

	w, ok := rl.windows[identity]
	if !ok || !now.Before(w.start.Add(rl.window)) {
		rl.windows[identity] = &rateWindow{start: now, count: 1}
		return true
	}

	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}
