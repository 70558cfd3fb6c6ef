package router

import (
	"sync"
	"time"
)

// RateLimiter implements per-user limiting of inbound events
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*ClientLimit
	now     func() time.Time
}

// ClientLimit tracks the current window for a single user
type ClientLimit struct {
	eventCount  int
	windowStart time.Time
}

// NewRateLimiter allows limit events per user within each window
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*ClientLimit),
		now:     time.Now,
	}
}

// Allow checks if the user may send another event
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	limit, exists := rl.clients[userID]
	if !exists {
		rl.clients[userID] = &ClientLimit{
			eventCount:  1,
			windowStart: now,
		}
		return true
	}

	// Window elapsed, start a new one
	if now.Sub(limit.windowStart) >= rl.window {
		limit.eventCount = 1
		limit.windowStart = now
		return true
	}

	if limit.eventCount >= rl.limit {
		return false
	}

	limit.eventCount++
	return true
}

// Cleanup removes entries idle for more than five windows (call periodically).
// It is the only way a window is dropped, so reconnecting never resets a limit.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for userID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, userID)
			removed++
		}
	}
	return removed
}
