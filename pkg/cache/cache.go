// Package cache holds read-through snapshots of market records.
package cache

import "time"

// Cache is a TTL key/value cache. Writes may be dropped, so a miss after Set is
// always legal and callers fall back to storage.
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration) bool
	Delete(key string)
	Close()
}
