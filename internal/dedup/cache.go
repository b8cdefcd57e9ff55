// Package dedup remembers recently processed message ids so redelivered
// messages are acted on at most once.
package dedup

import (
	"sync"
	"time"
)

// DefaultWindow is how long a message id is remembered.
const DefaultWindow = 10 * time.Minute

// Cache is a time-windowed set of message ids. Entries expire lazily on
// access and through Sweep; there is no size-based eviction, since evicting a
// live entry would let its message be processed twice.
type Cache struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

func NewCache(window time.Duration) *Cache {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Cache{
		window:  window,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Seen reports whether id was already recorded within the window. A first
// sighting records id and returns false. The check and the insert happen
// under one lock, so of two concurrent callers with the same id exactly one
// gets false. An empty id is never recorded and always reports false.
func (c *Cache) Seen(id string) bool {
	if id == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if at, ok := c.entries[id]; ok {
		if now.Sub(at) < c.window {
			return true
		}
	}
	c.entries[id] = now
	return false
}

// Sweep drops expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, at := range c.entries {
		if now.Sub(at) >= c.window {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
