package cache

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	count     int64
	expiresAt time.Time
}

// LocalCounter implements Counter in process memory.
// This is suitable for single-instance deployments.
type LocalCounter struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	now     func() time.Time
}

// NewLocalCounter creates a new in-memory counter.
func NewLocalCounter() *LocalCounter {
	return &LocalCounter{
		entries: make(map[string]*localEntry),
		now:     time.Now,
	}
}

// Incr increments key, starting a new window when the previous one has expired.
func (c *LocalCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		e = &localEntry{expiresAt: now.Add(window)}
		c.entries[key] = e
		c.sweep(now)
	}
	e.count++
	return e.count, nil
}

// sweep drops expired keys. Callers must hold mu.
func (c *LocalCounter) sweep(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// Close is a no-op for the local counter.
func (c *LocalCounter) Close() error {
	return nil
}
