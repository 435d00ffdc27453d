package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	LookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parimutuel_cache_lookups_total",
		Help: "Cache lookups by cache and result (hit, miss)",
	}, []string{"cache", "result"})

	WritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parimutuel_cache_writes_total",
		Help: "Cache writes by cache and op (set, rejected, delete)",
	}, []string{"cache", "op"})
)
