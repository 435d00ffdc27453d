package market

import (
	"context"
	"fmt"
	"time"

	"github.com/mselser95/parimutuel/internal/lock"
	"github.com/mselser95/parimutuel/pkg/types"
	"go.uber.org/zap"
)

// ResolveParams names the winning side of a market.
type ResolveParams struct {
	MarketID string
	Caller   types.Identity
	Outcome  types.Position
}

// Resolve fixes the outcome of an ACTIVE market. Only the creator may resolve,
// before or after expiry, but not once any stake has been refunded as
// unresolved. The transition is irreversible.
func (c *Controller) Resolve(ctx context.Context, p ResolveParams) (m *types.Market, err error) {
	start := time.Now()
	defer func() { observe("resolve", start, err) }()

	if !p.Outcome.Valid() {
		return nil, fmt.Errorf("%w: unknown outcome %q", types.ErrInvalidParameters, p.Outcome)
	}

	release, err := c.lock(ctx, lock.MarketKey(p.MarketID))
	if err != nil {
		return nil, err
	}
	defer release()

	m, err = c.store.GetMarket(ctx, p.MarketID)
	if err != nil {
		return nil, err
	}
	if p.Caller != m.Creator {
		return nil, fmt.Errorf("resolve market %s as %s: %w", m.ID, p.Caller, types.ErrUnauthorized)
	}
	if m.Status != types.MarketStatusActive {
		return nil, fmt.Errorf("resolve %s market %s: %w", m.Status, m.ID, types.ErrInvalidState)
	}
	if m.Refunds > 0 {
		return nil, fmt.Errorf("resolve market %s after %d stakes were refunded: %w", m.ID, m.Refunds, types.ErrInvalidState)
	}

	now := c.clock.Now()
	if err := c.store.CommitResolve(ctx, m.ID, p.Outcome, now); err != nil {
		return nil, err
	}
	c.cache.Invalidate(m.ID)

	m, err = c.store.GetMarket(ctx, p.MarketID)
	if err != nil {
		return nil, fmt.Errorf("reload market: %w", err)
	}

	c.logger.Info("market-resolved",
		zap.String("market-id", m.ID),
		zap.String("outcome", string(p.Outcome)),
		zap.Uint64("total-pool", m.TotalPool),
		zap.Uint64("winning-pool", m.PoolFor(p.Outcome)),
		zap.Bool("expired", m.IsExpired(now)))

	c.publish(types.Event{Type: types.EventMarketResolved, MarketID: m.ID, Outcome: p.Outcome, At: now})
	return m, nil
}
