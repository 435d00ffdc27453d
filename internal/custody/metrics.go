package custody

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersTotal tracks applied transfers.
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parimutuel_custody_transfers_total",
			Help: "Total number of fund transfers applied",
		},
		[]string{"direction"},
	)

	// TransferFailuresTotal tracks rejected transfers by failure code.
	TransferFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parimutuel_custody_transfer_failures_total",
			Help: "Total number of rejected fund transfers",
		},
		[]string{"code"},
	)

	// TransferReplaysTotal tracks transfers skipped because their ID was already applied.
	TransferReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parimutuel_custody_transfer_replays_total",
		Help: "Total number of idempotent transfer replays",
	})

	// EscrowAccountsTotal tracks allocated escrow units.
	EscrowAccountsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parimutuel_custody_escrow_accounts_total",
		Help: "Total number of escrow custody units allocated",
	})
)
