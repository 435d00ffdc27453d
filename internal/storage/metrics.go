package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueryDuration tracks SQL statement and transaction latency.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parimutuel_storage_query_duration_seconds",
		Help:    "Duration of storage operations",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"backend", "operation"})

	// QueryErrorsTotal counts failed storage operations.
	QueryErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parimutuel_storage_query_errors_total",
		Help: "Total number of failed storage operations",
	}, []string{"backend", "operation"})

	// CommitConflictsTotal counts commits rejected by their guard condition.
	CommitConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parimutuel_storage_commit_conflicts_total",
		Help: "Total number of commits rejected because the record changed underneath",
	}, []string{"operation"})
)
