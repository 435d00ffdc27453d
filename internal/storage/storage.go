package storage

import (
	"context"
	"time"

	"github.com/mselser95/parimutuel/internal/payout"
	"github.com/mselser95/parimutuel/pkg/types"
)

// DefaultListLimit is applied when a ListFilter has no limit.
const DefaultListLimit = 50

// MaxListLimit caps a single page.
const MaxListLimit = 500

// ListFilter narrows ListMarkets.
type ListFilter struct {
	Status      types.MarketStatus // empty matches all
	Creator     types.Identity     // empty matches all
	Participant types.Identity     // markets the identity has staked on; empty matches all
	Limit       int
	Offset      int
}

// Normalize applies default and maximum limits.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Store persists markets, participations and pending operations. Every Commit*
// method is all-or-nothing and re-checks its guard condition at the record level.
type Store interface {
	// InsertMarket persists a new market. Fails with types.ErrConflict if the ID exists.
	InsertMarket(ctx context.Context, m *types.Market) error

	// GetMarket returns types.ErrNotFound for unknown IDs.
	GetMarket(ctx context.Context, id string) (*types.Market, error)

	// ListMarkets returns one page, newest first, and the total match count.
	ListMarkets(ctx context.Context, f ListFilter) ([]*types.Market, int, error)

	// DeleteMarket removes a market with its participations and operation records.
	DeleteMarket(ctx context.Context, id string) error

	// GetParticipation returns types.ErrNotFound when the user has no stake.
	GetParticipation(ctx context.Context, marketID string, user types.Identity) (*types.Participation, error)

	// ListParticipations returns all participations of a market.
	ListParticipations(ctx context.Context, marketID string) ([]*types.Participation, error)

	// InsertPending records an operation before its transfer runs. At most one PENDING
	// operation may exist per (kind, market, user); a second fails with types.ErrConflict.
	// A settlement refunding an unresolved market also increments the market's Refunds
	// and fails with types.ErrInvalidState unless the market is ACTIVE.
	InsertPending(ctx context.Context, op *types.PendingOperation) error

	// GetPending returns the PENDING operation for (kind, market, user), or types.ErrNotFound.
	GetPending(ctx context.Context, kind types.OperationKind, marketID string, user types.Identity) (*types.PendingOperation, error)

	// ListPending returns every PENDING operation, oldest first.
	ListPending(ctx context.Context) ([]*types.PendingOperation, error)

	// AbortPending marks a PENDING operation ABORTED, releasing any refund it
	// reserved on its market.
	AbortPending(ctx context.Context, id string, reason string, at time.Time) error

	// CommitStake inserts the participation, adds its amount to the market pools and
	// marks op COMMITTED. Fails with types.ErrInvalidState unless the market is ACTIVE
	// and with types.ErrDuplicateParticipation if the participation exists.
	CommitStake(ctx context.Context, op *types.PendingOperation, p *types.Participation) error

	// CommitResolve moves an ACTIVE market to RESOLVED with outcome. Fails with
	// types.ErrInvalidState if the market is not ACTIVE or has Refunds.
	CommitResolve(ctx context.Context, marketID string, outcome types.Position, at time.Time) error

	// CommitSettle marks the participation claimed and op COMMITTED. Fails with
	// types.ErrAlreadyClaimed if the participation is already claimed.
	CommitSettle(ctx context.Context, op *types.PendingOperation, at time.Time) error

	// Close releases the underlying resources.
	Close() error
}

// reservesRefund reports whether op refunds a stake on a market that was never
// resolved. Such an operation pins the market to the unresolved path.
func reservesRefund(op *types.PendingOperation) bool {
	return op.Kind == types.OperationSettle && op.PayoutKind == string(payout.KindRefundUnresolved)
}
