package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// RistrettoCache is a Cache backed by Ristretto. Every entry costs 1, so MaxCost
// bounds the number of entries.
type RistrettoCache struct {
	name   string
	cache  *ristretto.Cache
	logger *zap.Logger
}

// RistrettoConfig holds configuration for Ristretto cache.
type RistrettoConfig struct {
	Name        string // metrics label, defaults to "default"
	NumCounters int64  // defaults to 10x MaxCost
	MaxCost     int64
	BufferItems int64
	Logger      *zap.Logger
}

// NewRistrettoCache creates a new Ristretto-backed cache.
func NewRistrettoCache(cfg *RistrettoConfig) (*RistrettoCache, error) {
	if cfg.MaxCost <= 0 {
		return nil, fmt.Errorf("create ristretto cache: max cost must be positive")
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = cfg.MaxCost * 10
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = 64
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}

	return &RistrettoCache{
		name:   cfg.Name,
		cache:  rc,
		logger: cfg.Logger.With(zap.String("cache", cfg.Name)),
	}, nil
}

func (r *RistrettoCache) Get(key string) (interface{}, bool) {
	value, found := r.cache.Get(key)
	result := "miss"
	if found {
		result = "hit"
	}
	LookupsTotal.WithLabelValues(r.name, result).Inc()
	return value, found
}

func (r *RistrettoCache) Set(key string, value interface{}, ttl time.Duration) bool {
	if !r.cache.SetWithTTL(key, value, 1, ttl) {
		WritesTotal.WithLabelValues(r.name, "rejected").Inc()
		r.logger.Debug("cache-set-rejected", zap.String("key", key))
		return false
	}
	WritesTotal.WithLabelValues(r.name, "set").Inc()
	return true
}

func (r *RistrettoCache) Delete(key string) {
	r.cache.Del(key)
	WritesTotal.WithLabelValues(r.name, "delete").Inc()
}

func (r *RistrettoCache) Close() {
	r.cache.Close()
	r.logger.Info("cache-closed")
}

// Wait blocks until buffered writes are visible to Get.
func (r *RistrettoCache) Wait() {
	r.cache.Wait()
}

var _ Cache = (*RistrettoCache)(nil)
