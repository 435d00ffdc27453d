package cache

import (
	"time"

	"github.com/mselser95/parimutuel/pkg/types"
)

// SnapshotCache caches market records for read paths. Values are cloned on the
// way in and out so callers can never mutate a cached snapshot. Mutating paths
// must read from storage and call Invalidate after committing.
type SnapshotCache struct {
	cache Cache
	ttl   time.Duration
}

// NewSnapshotCache wraps c. A nil c yields a cache that never hits.
func NewSnapshotCache(c Cache, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{cache: c, ttl: ttl}
}

func marketKey(id string) string {
	return "market:" + id
}

// Market returns a cached copy of the market, if present.
func (s *SnapshotCache) Market(id string) (*types.Market, bool) {
	if s == nil || s.cache == nil {
		return nil, false
	}
	v, ok := s.cache.Get(marketKey(id))
	if !ok {
		return nil, false
	}
	m, ok := v.(*types.Market)
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// Store caches a copy of m.
func (s *SnapshotCache) Store(m *types.Market) {
	if s == nil || s.cache == nil || m == nil {
		return
	}
	s.cache.Set(marketKey(m.ID), m.Clone(), s.ttl)
}

// Close releases the backing cache.
func (s *SnapshotCache) Close() error {
	if s == nil || s.cache == nil {
		return nil
	}
	s.cache.Close()
	return nil
}

// Invalidate drops the cached copy of a market.
func (s *SnapshotCache) Invalidate(id string) {
	if s == nil || s.cache == nil {
		return
	}
	s.cache.Delete(marketKey(id))
}
