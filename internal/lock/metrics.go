package lock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LocksAcquiredTotal counts successful acquisitions.
	LocksAcquiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parimutuel_locks_acquired_total",
		Help: "Total number of locks acquired",
	}, []string{"backend"})

	// LockWaitTimeoutsTotal counts acquisitions abandoned by timeout or cancellation.
	LockWaitTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parimutuel_lock_wait_timeouts_total",
		Help: "Total number of lock acquisitions that gave up waiting",
	}, []string{"backend"})
)
