package market

import (
	"context"
	"fmt"
	"time"

	"github.com/mselser95/parimutuel/internal/archive"
	"github.com/mselser95/parimutuel/internal/custody"
	"github.com/mselser95/parimutuel/internal/lock"
	"github.com/mselser95/parimutuel/pkg/types"
	"go.uber.org/zap"
)

// ReclaimParams identifies a finished market to remove.
type ReclaimParams struct {
	MarketID string
	Caller   types.Identity
}

// ReclaimResult reports what reclamation did.
type ReclaimResult struct {
	MarketID string `json:"market_id"`
	Swept    uint64 `json:"swept"`
	Archived bool   `json:"archived"`
}

// Reclaim removes a market once it is resolved or expired and every participation
// has been claimed. Escrow dust left by floor division is swept to the creator and
// a snapshot is archived before the records are deleted.
func (c *Controller) Reclaim(ctx context.Context, p ReclaimParams) (res ReclaimResult, err error) {
	start := time.Now()
	defer func() { observe("reclaim", start, err) }()

	release, err := c.lock(ctx, lock.MarketKey(p.MarketID))
	if err != nil {
		return ReclaimResult{}, err
	}
	defer release()

	m, err := c.store.GetMarket(ctx, p.MarketID)
	if err != nil {
		return ReclaimResult{}, err
	}
	if p.Caller != m.Creator {
		return ReclaimResult{}, fmt.Errorf("reclaim market %s as %s: %w", m.ID, p.Caller, types.ErrUnauthorized)
	}
	now := c.clock.Now()
	if !m.Settleable(now) {
		return ReclaimResult{}, fmt.Errorf("reclaim open market %s: %w", m.ID, types.ErrNotReclaimable)
	}

	parts, err := c.store.ListParticipations(ctx, m.ID)
	if err != nil {
		return ReclaimResult{}, fmt.Errorf("list participations: %w", err)
	}
	unclaimed := 0
	for _, part := range parts {
		if !part.Claimed {
			unclaimed++
		}
	}
	if unclaimed > 0 {
		return ReclaimResult{}, fmt.Errorf("market %s has %d unclaimed participations: %w",
			m.ID, unclaimed, types.ErrNotReclaimable)
	}

	pending, err := c.store.ListPending(ctx)
	if err != nil {
		return ReclaimResult{}, fmt.Errorf("list pending operations: %w", err)
	}
	for _, op := range pending {
		if op.MarketID == m.ID {
			return ReclaimResult{}, fmt.Errorf("market %s has operation %s in flight: %w",
				m.ID, op.ID, types.ErrNotReclaimable)
		}
	}

	swept, err := c.ledger.Balance(ctx, escrow(m))
	if err != nil {
		return ReclaimResult{}, fmt.Errorf("read escrow balance: %w", err)
	}
	if swept > 0 {
		err = c.ledger.Move(ctx, custody.Transfer{
			ID:     "reclaim:" + m.ID,
			From:   escrow(m),
			To:     m.Creator,
			Amount: swept,
		})
		if err != nil {
			return ReclaimResult{}, err
		}
	}

	res = ReclaimResult{MarketID: m.ID, Swept: swept}
	if c.archiver != nil {
		snap := &archive.Snapshot{Market: m, Participations: parts, Swept: swept, ArchivedAt: now}
		if err := c.archiver.Archive(ctx, snap); err != nil {
			return ReclaimResult{}, fmt.Errorf("archive market: %w", err)
		}
		res.Archived = true
	}

	if err := c.store.DeleteMarket(ctx, m.ID); err != nil {
		return ReclaimResult{}, fmt.Errorf("delete market: %w", err)
	}
	c.cache.Invalidate(m.ID)

	c.logger.Info("market-reclaimed",
		zap.String("market-id", m.ID),
		zap.Int("participations", len(parts)),
		zap.Uint64("swept", swept),
		zap.Bool("archived", res.Archived))

	c.publish(types.Event{Type: types.EventReclaimed, MarketID: m.ID, User: m.Creator, Amount: swept, At: now})
	return res, nil
}
