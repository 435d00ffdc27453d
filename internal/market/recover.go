package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/mselser95/parimutuel/internal/lock"
	"github.com/mselser95/parimutuel/pkg/types"
	"go.uber.org/zap"
)

// RecoveryReport summarizes a Recover pass.
type RecoveryReport struct {
	Replayed int `json:"replayed"`
	Aborted  int `json:"aborted"`
	Failed   int `json:"failed"`
}

// Recover rolls every PENDING operation forward: the transfer is re-issued under
// its original idempotency key, then the commit is retried. Operations whose
// transfer or commit is refused end ABORTED with any escrowed funds returned.
// It runs at start-up before traffic is accepted and again on each recovery
// sweep.
func (c *Controller) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	ops, err := c.store.ListPending(ctx)
	if err != nil {
		return report, fmt.Errorf("list pending operations: %w", err)
	}
	if len(ops) == 0 {
		return report, nil
	}

	c.logger.Info("recovery-started", zap.Int("pending-operations", len(ops)))

	for _, op := range ops {
		replayed, err := c.recoverOne(ctx, op)
		switch {
		case err == nil && replayed:
			report.Replayed++
			RecoveredOperationsTotal.WithLabelValues(string(op.Kind), "replayed").Inc()
		case err == nil:
			// finished elsewhere in the meantime
		case refused(err):
			report.Aborted++
			RecoveredOperationsTotal.WithLabelValues(string(op.Kind), "aborted").Inc()
		default:
			report.Failed++
			RecoveredOperationsTotal.WithLabelValues(string(op.Kind), "failed").Inc()
			c.logger.Error("recovery-operation-failed",
				zap.String("operation-id", op.ID),
				zap.String("kind", string(op.Kind)),
				zap.String("market-id", op.MarketID),
				zap.Error(err))
		}
	}

	c.logger.Info("recovery-complete",
		zap.Int("replayed", report.Replayed),
		zap.Int("aborted", report.Aborted),
		zap.Int("failed", report.Failed))
	return report, nil
}

func (c *Controller) recoverOne(ctx context.Context, op *types.PendingOperation) (bool, error) {
	key := lock.MarketKey(op.MarketID)
	if op.Kind == types.OperationSettle {
		key = lock.ParticipationKey(op.MarketID, op.User.String())
	}
	release, err := c.lock(ctx, key)
	if err != nil {
		return false, err
	}
	defer release()

	current, err := c.store.GetPending(ctx, op.Kind, op.MarketID, op.User)
	if errors.Is(err, types.ErrNotFound) || (err == nil && current.ID != op.ID) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	m, err := c.store.GetMarket(ctx, op.MarketID)
	if errors.Is(err, types.ErrNotFound) {
		c.abort(ctx, op, err)
		return false, err
	}
	if err != nil {
		return false, err
	}

	switch op.Kind {
	case types.OperationStake:
		_, err = c.finishStake(ctx, m, op)
	case types.OperationSettle:
		err = c.finishSettle(ctx, m, op)
	default:
		err = fmt.Errorf("%w: unknown operation kind %q", types.ErrInvalidParameters, op.Kind)
		c.abort(ctx, op, err)
	}
	if err != nil {
		return false, err
	}

	c.logger.Info("operation-recovered",
		zap.String("operation-id", op.ID),
		zap.String("kind", string(op.Kind)),
		zap.String("market-id", op.MarketID),
		zap.String("user", op.User.String()))
	return true, nil
}

// refused reports errors after which the operation was aborted rather than left
// pending.
func refused(err error) bool {
	return types.IsTransferError(err) ||
		errors.Is(err, types.ErrNotFound) ||
		errors.Is(err, types.ErrInvalidState) ||
		errors.Is(err, types.ErrDuplicateParticipation) ||
		errors.Is(err, types.ErrInvalidParameters)
}
