package cachesvc

import (
	"context"
	"sync"
	"time"

	"github.com/gruppenschlau/gruppenschlau/core"
)

type inmemEntry struct {
	value     []byte
	expiresAt time.Time
}

// InmemCache is a process-local core.Cache.
type InmemCache struct {
	mu      sync.RWMutex
	entries map[string]inmemEntry
	now     func() time.Time
}

var _ core.Cache = (*InmemCache)(nil)

func NewInmemCache() *InmemCache {
	return &InmemCache{entries: make(map[string]inmemEntry), now: time.Now}
}

func (c *InmemCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *InmemCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := inmemEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

func (c *InmemCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InmemCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
