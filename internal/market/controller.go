// Package market implements the lifecycle of a pari-mutuel market: creation,
// stake admission, resolution and settlement.
//
// Every operation that moves funds is bundled with its ledger mutation through a
// write-ahead PendingOperation. The operation is recorded first, the transfer is
// executed with the operation ID as its idempotency key, and the store commit then
// flips the operation to COMMITTED together with the record it pays for. A crash in
// between leaves a PENDING operation that Recover rolls forward.
package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/mselser95/parimutuel/internal/archive"
	"github.com/mselser95/parimutuel/internal/custody"
	"github.com/mselser95/parimutuel/internal/lock"
	"github.com/mselser95/parimutuel/internal/storage"
	"github.com/mselser95/parimutuel/pkg/cache"
	"github.com/mselser95/parimutuel/pkg/clock"
	"github.com/mselser95/parimutuel/pkg/types"
	"go.uber.org/zap"
)

// Publisher receives lifecycle events after they are committed.
type Publisher interface {
	Publish(ev types.Event)
}

// Config holds controller dependencies. Cache, Archiver and Publisher are optional.
type Config struct {
	Store     storage.Store
	Ledger    custody.Ledger
	Locker    lock.Locker
	Clock     clock.Clock
	Cache     *cache.SnapshotCache
	Archiver  archive.Archiver
	Publisher Publisher
	Logger    *zap.Logger
}

// Controller drives the market state machine.
type Controller struct {
	store     storage.Store
	ledger    custody.Ledger
	locker    lock.Locker
	clock     clock.Clock
	cache     *cache.SnapshotCache
	archiver  archive.Archiver
	publisher Publisher
	logger    *zap.Logger
}

// New creates a controller.
func New(cfg *Config) (*Controller, error) {
	if cfg.Store == nil || cfg.Ledger == nil {
		return nil, errors.New("market controller requires a store and a ledger")
	}
	c := &Controller{
		store:     cfg.Store,
		ledger:    cfg.Ledger,
		locker:    cfg.Locker,
		clock:     cfg.Clock,
		cache:     cfg.Cache,
		archiver:  cfg.Archiver,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
	}
	if c.locker == nil {
		c.locker = lock.NewLocalLocker()
	}
	if c.clock == nil {
		c.clock = clock.System{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

func (c *Controller) lock(ctx context.Context, key string) (func(), error) {
	release, err := c.locker.Acquire(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	return release, nil
}

func (c *Controller) publish(ev types.Event) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(ev)
}

// escrow returns the custody account of a market.
func escrow(m *types.Market) types.Identity {
	return types.Identity(m.EscrowRef)
}

// abort marks op ABORTED. A failure here is logged, not returned: the caller is
// already reporting the error that caused the abort.
func (c *Controller) abort(ctx context.Context, op *types.PendingOperation, reason error) {
	if err := c.store.AbortPending(ctx, op.ID, reason.Error(), c.clock.Now()); err != nil {
		c.logger.Error("abort-operation-failed",
			zap.String("operation-id", op.ID),
			zap.String("kind", string(op.Kind)),
			zap.Error(err))
		return
	}
	c.cache.Invalidate(op.MarketID)
	c.logger.Info("operation-aborted",
		zap.String("operation-id", op.ID),
		zap.String("kind", string(op.Kind)),
		zap.String("market-id", op.MarketID),
		zap.String("reason", reason.Error()))
}
