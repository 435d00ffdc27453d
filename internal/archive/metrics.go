package archive

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ArchivedMarketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parimutuel_archived_markets_total",
		Help: "Total number of market snapshots written to cold storage",
	}, []string{"backend"})

	ArchiveFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parimutuel_archive_failures_total",
		Help: "Total number of failed archive writes",
	}, []string{"backend"})
)
