package market

import (
	"errors"
	"time"

	"github.com/mselser95/parimutuel/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parimutuel_operations_total",
		Help: "Total number of lifecycle operations by result",
	}, []string{"operation", "result"})

	OperationDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parimutuel_operation_duration_seconds",
		Help:    "Duration of lifecycle operations",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"operation"})

	StakedAmountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parimutuel_staked_amount_total",
		Help: "Sum of admitted stakes",
	})

	PaidAmountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parimutuel_paid_amount_total",
		Help: "Sum of settlement payouts",
	})

	PayoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parimutuel_payouts_total",
		Help: "Total number of settlements by payout kind",
	}, []string{"kind"})

	CompensationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parimutuel_stake_compensations_total",
		Help: "Total number of stakes refunded because their commit was refused",
	})

	RecoveredOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parimutuel_recovered_operations_total",
		Help: "Total number of pending operations handled at start-up",
	}, []string{"kind", "result"})
)

func observe(operation string, start time.Time, err error) {
	OperationDurationSeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	OperationsTotal.WithLabelValues(operation, ResultLabel(err)).Inc()
}

// ResultLabel maps an operation error to a short, bounded label.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case types.IsTransferError(err):
		return "transfer_failed"
	case errors.Is(err, types.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, types.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, types.ErrMarketExpired):
		return "market_expired"
	case errors.Is(err, types.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, types.ErrInvalidParameters):
		return "invalid_parameters"
	case errors.Is(err, types.ErrDuplicateParticipation):
		return "duplicate_participation"
	case errors.Is(err, types.ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, types.ErrNotSettleable):
		return "not_settleable"
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, types.ErrNotReclaimable):
		return "not_reclaimable"
	case errors.Is(err, types.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
