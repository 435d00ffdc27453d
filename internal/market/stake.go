package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/parimutuel/internal/custody"
	"github.com/mselser95/parimutuel/internal/lock"
	"github.com/mselser95/parimutuel/pkg/types"
	"go.uber.org/zap"
)

// StakeParams describes one stake.
type StakeParams struct {
	MarketID string
	User     types.Identity
	Amount   uint64
	Position types.Position
}

// AdmitStake moves Amount from the user into the market escrow and records the
// participation. Preconditions are checked in order: market ACTIVE, not expired,
// amount within bounds, no existing participation.
func (c *Controller) AdmitStake(ctx context.Context, p StakeParams) (part *types.Participation, err error) {
	start := time.Now()
	defer func() { observe("admit_stake", start, err) }()

	if p.User == "" {
		return nil, fmt.Errorf("%w: user is required", types.ErrInvalidParameters)
	}
	if p.User.IsEscrow() {
		return nil, fmt.Errorf("stake from escrow account %s: %w", p.User, types.ErrUnauthorized)
	}
	if !p.Position.Valid() {
		return nil, fmt.Errorf("%w: unknown position %q", types.ErrInvalidParameters, p.Position)
	}

	release, err := c.lock(ctx, lock.MarketKey(p.MarketID))
	if err != nil {
		return nil, err
	}
	defer release()

	m, err := c.store.GetMarket(ctx, p.MarketID)
	if err != nil {
		return nil, err
	}

	now := c.clock.Now()
	if m.Status != types.MarketStatusActive {
		return nil, fmt.Errorf("stake on %s market %s: %w", m.Status, m.ID, types.ErrInvalidState)
	}
	if m.IsExpired(now) {
		return nil, fmt.Errorf("stake on market %s after %s: %w",
			m.ID, m.ExpiresAt.Format(time.RFC3339), types.ErrMarketExpired)
	}
	if p.Amount < m.MinBet || p.Amount > m.MaxBet {
		return nil, fmt.Errorf("amount %d outside [%d, %d]: %w", p.Amount, m.MinBet, m.MaxBet, types.ErrInvalidAmount)
	}
	if m.TotalPool+p.Amount < m.TotalPool {
		return nil, fmt.Errorf("amount %d overflows pool %d: %w", p.Amount, m.TotalPool, types.ErrInvalidAmount)
	}
	if err := c.ensureNoParticipation(ctx, m.ID, p.User); err != nil {
		return nil, err
	}

	op := &types.PendingOperation{
		ID:        uuid.New().String(),
		Kind:      types.OperationStake,
		MarketID:  m.ID,
		User:      p.User,
		Amount:    p.Amount,
		Position:  p.Position,
		State:     types.OperationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.InsertPending(ctx, op); err != nil {
		if errors.Is(err, types.ErrConflict) {
			return nil, fmt.Errorf("stake by %s on %s in flight: %w", p.User, m.ID, types.ErrDuplicateParticipation)
		}
		return nil, fmt.Errorf("record stake: %w", err)
	}

	part, err = c.finishStake(ctx, m, op)
	if err != nil {
		return nil, err
	}

	StakedAmountTotal.Add(float64(part.Amount))
	c.logger.Info("stake-admitted",
		zap.String("market-id", m.ID),
		zap.String("user", p.User.String()),
		zap.String("position", string(p.Position)),
		zap.Uint64("amount", p.Amount),
		zap.String("operation-id", op.ID))
	return part, nil
}

// ensureNoParticipation rejects a user who already staked or has a stake in flight.
func (c *Controller) ensureNoParticipation(ctx context.Context, marketID string, user types.Identity) error {
	_, err := c.store.GetParticipation(ctx, marketID, user)
	if err == nil {
		return fmt.Errorf("user %s on market %s: %w", user, marketID, types.ErrDuplicateParticipation)
	}
	if !errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("read participation: %w", err)
	}

	_, err = c.store.GetPending(ctx, types.OperationStake, marketID, user)
	if err == nil {
		return fmt.Errorf("user %s on market %s in flight: %w", user, marketID, types.ErrDuplicateParticipation)
	}
	if !errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("read pending stake: %w", err)
	}
	return nil
}

// finishStake executes the transfer for a recorded stake and commits it. It is
// safe to call again for the same op: the transfer is keyed by op.ID.
func (c *Controller) finishStake(ctx context.Context, m *types.Market, op *types.PendingOperation) (*types.Participation, error) {
	err := c.ledger.Move(ctx, custody.Transfer{
		ID:     op.ID,
		From:   op.User,
		To:     escrow(m),
		Amount: op.Amount,
	})
	if err != nil {
		c.abort(ctx, op, err)
		return nil, err
	}

	part := &types.Participation{
		MarketID:  op.MarketID,
		User:      op.User,
		Amount:    op.Amount,
		Position:  op.Position,
		CreatedAt: op.CreatedAt,
	}
	if err := c.store.CommitStake(ctx, op, part); err != nil {
		if errors.Is(err, types.ErrInvalidState) || errors.Is(err, types.ErrDuplicateParticipation) {
			c.compensateStake(ctx, m, op, err)
		} else {
			c.logger.Error("commit-stake-failed",
				zap.String("market-id", m.ID),
				zap.String("operation-id", op.ID),
				zap.Error(err))
		}
		return nil, err
	}

	c.cache.Invalidate(m.ID)
	c.publish(types.Event{
		Type:     types.EventStakeAdmitted,
		MarketID: m.ID,
		User:     op.User,
		Amount:   op.Amount,
		Position: op.Position,
		At:       c.clock.Now(),
	})
	return part, nil
}

// compensateStake returns escrowed funds when the commit was refused after the
// transfer succeeded. If the refund fails the op stays PENDING for Recover.
func (c *Controller) compensateStake(ctx context.Context, m *types.Market, op *types.PendingOperation, cause error) {
	err := c.ledger.Move(ctx, custody.Transfer{
		ID:     op.ID + ":refund",
		From:   escrow(m),
		To:     op.User,
		Amount: op.Amount,
	})
	if err != nil {
		c.logger.Error("stake-compensation-failed",
			zap.String("market-id", m.ID),
			zap.String("operation-id", op.ID),
			zap.Error(err))
		return
	}
	CompensationsTotal.Inc()
	c.abort(ctx, op, cause)
}
