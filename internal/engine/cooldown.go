package engine

import (
	"sync"
	"time"
)

// Cooldown blocks repeat executions against the same market or pair for a
// fixed window. Every execution attempt records a timestamp, successful or
// not.
type Cooldown struct {
	mu     sync.Mutex
	last   map[string]time.Time
	window time.Duration
}

// NewCooldown creates a Cooldown. window <= 0 defaults to 30s.
func NewCooldown(window time.Duration) *Cooldown {
	if window <= 0 {
		window = 30 * time.Second
	}
	return &Cooldown{last: make(map[string]time.Time), window: window}
}

// CanTrade reports whether the key is outside its cooldown window.
func (c *Cooldown) CanTrade(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.last[key]
	return !ok || now.Sub(last) >= c.window
}

// Record stamps an execution attempt.
func (c *Cooldown) Record(key string, now time.Time) {
	c.mu.Lock()
	c.last[key] = now
	c.mu.Unlock()
}

// Prune drops entries older than the window to bound memory.
func (c *Cooldown) Prune(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, t := range c.last {
		if now.Sub(t) >= c.window {
			delete(c.last, k)
		}
	}
}
