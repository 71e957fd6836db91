package retrylearn

import (
	"context"
	"sync"
	"time"
)

// Snapshot is the derived learning state shared through a Cache.
type Snapshot struct {
	Params      map[Category]Params `json:"params"`
	RefreshedAt time.Time           `json:"refreshed_at"`
}

// Lookup returns the learned params of c, if any.
func (s Snapshot) Lookup(c Category) (Params, bool) {
	p, ok := s.Params[c]

	return p, ok
}

// Fresh reports whether the snapshot was refreshed less than ttl before now.
func (s Snapshot) Fresh(now time.Time, ttl time.Duration) bool {
	return !s.RefreshedAt.IsZero() && now.Sub(s.RefreshedAt) < ttl
}

// Cache stores the latest Snapshot. It is never authoritative:
// a miss or an error only triggers a rebuild from the observation log.
type Cache interface {
	Load(ctx context.Context) (Snapshot, bool, error)
	Store(ctx context.Context, snapshot Snapshot) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu       sync.RWMutex
	snapshot Snapshot
	set      bool
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

// Load implements Cache.
func (c *MemoryCache) Load(context.Context) (Snapshot, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.snapshot, c.set, nil
}

// Store implements Cache.
func (c *MemoryCache) Store(_ context.Context, snapshot Snapshot) error {
	c.mu.Lock()
	c.snapshot = snapshot
	c.set = true
	c.mu.Unlock()

	return nil
}

// Invalidate drops the cached snapshot.
func (c *MemoryCache) Invalidate() {
	c.mu.Lock()
	c.snapshot = Snapshot{}
	c.set = false
	c.mu.Unlock()
}
