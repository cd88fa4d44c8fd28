package progress

import (
	"sync"
	"time"

	"github.com/voxmetra/voxmetra/pkg/types"
)

// Cache is a TTL read cache for progress documents. The progress endpoint is
// polled by the mobile client after every session; the cache keeps those
// reads off the store and doubles as the stale copy served while the store
// is degraded.
//
// All methods are safe for concurrent use.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	progress *types.UserProgress
	expires  time.Time
}

// NewCache creates a cache holding entries for ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns a copy of the cached document. expired reports a hit past its
// TTL: callers normally ignore those, the degraded-store path serves them.
func (c *Cache) Get(userID string) (progress *types.UserProgress, expired, ok bool) {
	c.mu.RLock()
	entry, hit := c.entries[userID]
	c.mu.RUnlock()
	if !hit {
		return nil, false, false
	}
	return Clone(entry.progress), c.now().After(entry.expires), true
}

// Put stores a copy of the document under its user id.
func (c *Cache) Put(progress *types.UserProgress) {
	if progress == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[progress.UserID] = cacheEntry{
		progress: Clone(progress),
		expires:  c.now().Add(c.ttl),
	}
}

// Invalidate drops the entry for a user, typically right after an
// aggregation write.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}
