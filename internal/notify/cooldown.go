package notify

import (
	"sync"
	"time"
)

// cooldown suppresses repeated alerts for the same key until the window
// elapses. Entries are bounded; the oldest expiry is evicted first.
type cooldown struct {
	mu         sync.Mutex
	now        func() time.Time
	window     time.Duration
	maxEntries int
	entries    map[string]time.Time
}

func newCooldown(window time.Duration, maxEntries int, now func() time.Time) *cooldown {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if now == nil {
		now = time.Now
	}
	return &cooldown{
		now:        now,
		window:     window,
		maxEntries: maxEntries,
		entries:    make(map[string]time.Time),
	}
}

// Allow reports whether key may fire now and, if so, starts its window.
func (c *cooldown) Allow(key string) bool {
	if c == nil {
		return true
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if expiresAt, ok := c.entries[key]; ok && now.Before(expiresAt) {
		return false
	}
	c.cleanupLocked(now)
	if len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[key] = now.Add(c.window)
	return true
}

// Reset forgets key so the next Allow fires.
func (c *cooldown) Reset(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *cooldown) cleanupLocked(now time.Time) {
	for key, expiresAt := range c.entries {
		if !now.Before(expiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *cooldown) evictOneLocked() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for key, expiresAt := range c.entries {
		if oldestKey == "" || expiresAt.Before(oldest) {
			oldestKey, oldest = key, expiresAt
		}
	}
	delete(c.entries, oldestKey)
}
