package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/parimutuel/internal/custody"
	"github.com/mselser95/parimutuel/internal/lock"
	"github.com/mselser95/parimutuel/internal/payout"
	"github.com/mselser95/parimutuel/pkg/types"
	"go.uber.org/zap"
)

// SettleParams identifies the participation to settle and who is asking.
type SettleParams struct {
	MarketID string
	User     types.Identity
	Caller   types.Identity
}

// SettleResult reports what a settlement paid.
type SettleResult struct {
	MarketID    string         `json:"market_id"`
	User        types.Identity `json:"user"`
	Amount      uint64         `json:"amount"`
	Kind        payout.Kind    `json:"kind,omitempty"`
	OperationID string         `json:"operation_id"`
	Replayed    bool           `json:"replayed,omitempty"`
}

// Settle pays a participation what the payout engine owes it and marks it
// claimed. A settlement interrupted after its record was written is completed
// with the amount originally computed rather than a fresh one.
func (c *Controller) Settle(ctx context.Context, p SettleParams) (res SettleResult, err error) {
	start := time.Now()
	defer func() { observe("settle", start, err) }()

	if p.Caller != p.User {
		return SettleResult{}, fmt.Errorf("settle %s as %s: %w", p.User, p.Caller, types.ErrUnauthorized)
	}

	release, err := c.lock(ctx, lock.ParticipationKey(p.MarketID, p.User.String()))
	if err != nil {
		return SettleResult{}, err
	}
	defer release()

	part, err := c.store.GetParticipation(ctx, p.MarketID, p.User)
	if err != nil {
		return SettleResult{}, err
	}
	m, err := c.store.GetMarket(ctx, p.MarketID)
	if err != nil {
		return SettleResult{}, err
	}

	inFlight, err := c.store.GetPending(ctx, types.OperationSettle, m.ID, p.User)
	switch {
	case err == nil:
		c.logger.Warn("settle-replaying-pending-operation",
			zap.String("market-id", m.ID),
			zap.String("user", p.User.String()),
			zap.String("operation-id", inFlight.ID))
		if err := c.finishSettle(ctx, m, inFlight); err != nil {
			return SettleResult{}, err
		}
		return SettleResult{
			MarketID:    m.ID,
			User:        p.User,
			Amount:      inFlight.Amount,
			Kind:        payout.Kind(inFlight.PayoutKind),
			OperationID: inFlight.ID,
			Replayed:    true,
		}, nil
	case !errors.Is(err, types.ErrNotFound):
		return SettleResult{}, fmt.Errorf("read pending settle: %w", err)
	}

	if part.Claimed {
		return SettleResult{}, fmt.Errorf("settle %s on %s: %w", p.User, m.ID, types.ErrAlreadyClaimed)
	}
	now := c.clock.Now()
	if !m.Settleable(now) {
		return SettleResult{}, fmt.Errorf("settle on market %s before %s: %w",
			m.ID, m.ExpiresAt.Format(time.RFC3339), types.ErrNotSettleable)
	}

	q, err := payout.Compute(m, part)
	if err != nil {
		return SettleResult{}, fmt.Errorf("compute payout: %w", err)
	}

	op := &types.PendingOperation{
		ID:         uuid.New().String(),
		Kind:       types.OperationSettle,
		MarketID:   m.ID,
		User:       p.User,
		Amount:     q.Amount,
		Position:   part.Position,
		PayoutKind: string(q.Kind),
		State:      types.OperationPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.store.InsertPending(ctx, op); err != nil {
		if errors.Is(err, types.ErrConflict) {
			return SettleResult{}, fmt.Errorf("settle %s on %s in flight: %w", p.User, m.ID, types.ErrAlreadyClaimed)
		}
		if errors.Is(err, types.ErrInvalidState) {
			// resolved after the snapshot was read; a retry pays the resolved branch
			return SettleResult{}, fmt.Errorf("settle %s: %w", p.User, err)
		}
		return SettleResult{}, fmt.Errorf("record settle: %w", err)
	}

	if err := c.finishSettle(ctx, m, op); err != nil {
		return SettleResult{}, err
	}

	PayoutsTotal.WithLabelValues(string(q.Kind)).Inc()
	PaidAmountTotal.Add(float64(q.Amount))
	c.logger.Info("participation-settled",
		zap.String("market-id", m.ID),
		zap.String("user", p.User.String()),
		zap.String("kind", string(q.Kind)),
		zap.Uint64("amount", q.Amount),
		zap.String("operation-id", op.ID))

	return SettleResult{
		MarketID:    m.ID,
		User:        p.User,
		Amount:      q.Amount,
		Kind:        q.Kind,
		OperationID: op.ID,
	}, nil
}

// finishSettle pays out a recorded settlement, if it pays anything, and marks the
// participation claimed. Safe to call again for the same op.
func (c *Controller) finishSettle(ctx context.Context, m *types.Market, op *types.PendingOperation) error {
	if op.Amount > 0 {
		err := c.ledger.Move(ctx, custody.Transfer{
			ID:     op.ID,
			From:   escrow(m),
			To:     op.User,
			Amount: op.Amount,
		})
		if err != nil {
			c.abort(ctx, op, err)
			return err
		}
	}

	now := c.clock.Now()
	if err := c.store.CommitSettle(ctx, op, now); err != nil {
		c.logger.Error("commit-settle-failed",
			zap.String("market-id", m.ID),
			zap.String("user", op.User.String()),
			zap.String("operation-id", op.ID),
			zap.Error(err))
		return err
	}

	if op.PayoutKind == string(payout.KindRefundUnresolved) {
		c.cache.Invalidate(m.ID)
	}

	c.publish(types.Event{
		Type:     types.EventSettled,
		MarketID: m.ID,
		User:     op.User,
		Amount:   op.Amount,
		Position: op.Position,
		At:       now,
	})
	return nil
}
