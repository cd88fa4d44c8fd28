package progress

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/voxmetra/voxmetra/pkg/store"
	"github.com/voxmetra/voxmetra/pkg/types"
)

// Guard wraps progress reads so a store outage degrades gracefully: loads
// fall back to the cache (even past its TTL) instead of failing the request.
// Writes are never guarded, the aggregation pipeline needs real errors for
// its conflict handling.
//
// IsDegraded feeds the readiness probe. All methods are safe for concurrent
// use.
type Guard struct {
	store    store.ProgressStore
	cache    *Cache
	degraded atomic.Bool
}

// NewGuard creates a Guard over the given store and cache.
func NewGuard(st store.ProgressStore, cache *Cache) *Guard {
	return &Guard{store: st, cache: cache}
}

// Load returns the user's progress document, preferring a fresh cache hit.
// On store failure a stale cached copy is served and the guard is marked
// degraded.
func (g *Guard) Load(ctx context.Context, userID string) (*types.UserProgress, error) {
	if cached, expired, ok := g.cache.Get(userID); ok && !expired {
		return cached, nil
	}

	p, err := g.store.LoadProgress(ctx, userID)
	if err != nil {
		g.degraded.Store(true)
		if cached, _, ok := g.cache.Get(userID); ok {
			slog.Warn("progress guard: store load failed, serving cached document",
				"user_id", userID,
				"error", err,
			)
			return cached, nil
		}
		return nil, err
	}
	g.degraded.Store(false)
	g.cache.Put(p)
	return p, nil
}

// IsDegraded reports whether the most recent uncached load failed.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}
