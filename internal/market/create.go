package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/parimutuel/pkg/types"
	"go.uber.org/zap"
)

const (
	MaxTitleLength       = 256
	MaxDescriptionLength = 4096
)

// CreateParams describes a new market.
type CreateParams struct {
	Creator     types.Identity
	Title       string
	Description string
	ExpiresAt   time.Time
	MinBet      uint64
	MaxBet      uint64
}

// CreateMarket allocates escrow and persists an ACTIVE market with empty pools.
func (c *Controller) CreateMarket(ctx context.Context, p CreateParams) (m *types.Market, err error) {
	start := time.Now()
	defer func() { observe("create_market", start, err) }()

	now := c.clock.Now()
	if err := validateCreate(p, now); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	escrowRef, err := c.ledger.Allocate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("allocate escrow: %w", err)
	}

	m = &types.Market{
		ID:          id,
		Creator:     p.Creator,
		EscrowRef:   escrowRef,
		Title:       strings.TrimSpace(p.Title),
		Description: strings.TrimSpace(p.Description),
		ExpiresAt:   p.ExpiresAt.UTC(),
		Status:      types.MarketStatusActive,
		MinBet:      p.MinBet,
		MaxBet:      p.MaxBet,
		CreatedAt:   now,
	}
	if err := c.store.InsertMarket(ctx, m); err != nil {
		return nil, fmt.Errorf("persist market: %w", err)
	}
	c.cache.Store(m)

	c.logger.Info("market-created",
		zap.String("market-id", m.ID),
		zap.String("creator", m.Creator.String()),
		zap.Time("expires-at", m.ExpiresAt),
		zap.Uint64("min-bet", m.MinBet),
		zap.Uint64("max-bet", m.MaxBet))

	c.publish(types.Event{Type: types.EventMarketCreated, MarketID: m.ID, User: m.Creator, At: now})
	return m, nil
}

func validateCreate(p CreateParams, now time.Time) error {
	if p.Creator == "" {
		return fmt.Errorf("%w: creator is required", types.ErrInvalidParameters)
	}
	if !p.ExpiresAt.After(now) {
		return fmt.Errorf("%w: expiry %s is not after %s",
			types.ErrInvalidParameters, p.ExpiresAt.UTC().Format(time.RFC3339), now.Format(time.RFC3339))
	}
	if p.MinBet == 0 {
		return fmt.Errorf("%w: min bet must be positive", types.ErrInvalidParameters)
	}
	if p.MaxBet < p.MinBet {
		return fmt.Errorf("%w: max bet %d below min bet %d", types.ErrInvalidParameters, p.MaxBet, p.MinBet)
	}
	if len(p.Title) > MaxTitleLength {
		return fmt.Errorf("%w: title longer than %d bytes", types.ErrInvalidParameters, MaxTitleLength)
	}
	if len(p.Description) > MaxDescriptionLength {
		return fmt.Errorf("%w: description longer than %d bytes", types.ErrInvalidParameters, MaxDescriptionLength)
	}
	return nil
}
