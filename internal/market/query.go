package market

import (
	"context"
	"fmt"

	"github.com/mselser95/parimutuel/internal/payout"
	"github.com/mselser95/parimutuel/internal/storage"
	"github.com/mselser95/parimutuel/pkg/types"
)

// GetMarket returns a market, from the snapshot cache when possible.
func (c *Controller) GetMarket(ctx context.Context, id string) (*types.Market, error) {
	if m, ok := c.cache.Market(id); ok {
		return m, nil
	}
	m, err := c.store.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Store(m)
	return m, nil
}

// ListMarkets returns one page of markets and the total match count.
func (c *Controller) ListMarkets(ctx context.Context, f storage.ListFilter) ([]*types.Market, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", types.ErrInvalidParameters, f.Status)
	}
	return c.store.ListMarkets(ctx, f)
}

// GetParticipation returns one user's stake on a market.
func (c *Controller) GetParticipation(ctx context.Context, marketID string, user types.Identity) (*types.Participation, error) {
	return c.store.GetParticipation(ctx, marketID, user)
}

// ListParticipations returns every stake on a market.
func (c *Controller) ListParticipations(ctx context.Context, marketID string) ([]*types.Participation, error) {
	if _, err := c.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	return c.store.ListParticipations(ctx, marketID)
}

// Quote previews what Settle would pay right now. It changes nothing.
func (c *Controller) Quote(ctx context.Context, marketID string, user types.Identity) (payout.Quote, error) {
	m, err := c.store.GetMarket(ctx, marketID)
	if err != nil {
		return payout.Quote{}, err
	}
	part, err := c.store.GetParticipation(ctx, marketID, user)
	if err != nil {
		return payout.Quote{}, err
	}
	if !m.Settleable(c.clock.Now()) {
		return payout.Quote{}, fmt.Errorf("quote on market %s: %w", m.ID, types.ErrNotSettleable)
	}
	return payout.Compute(m, part)
}
