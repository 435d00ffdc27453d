package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mselser95/parimutuel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// stores returns every Store implementation that runs without external services.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	logger := zaptest.NewLogger(t)

	sqliteStore, err := NewSQLiteStore(context.Background(), &SQLiteConfig{Path: ":memory:", Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(logger),
		"sqlite": sqliteStore,
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) { fn(t, s) })
	}
}

func newMarket(id string, createdAt time.Time) *types.Market {
	return &types.Market{
		ID:        id,
		Creator:   "0xcreator",
		EscrowRef: "escrow:" + id,
		Title:     "Will it rain?",
		ExpiresAt: createdAt.Add(24 * time.Hour),
		Status:    types.MarketStatusActive,
		MinBet:    10,
		MaxBet:    1000,
		CreatedAt: createdAt,
	}
}

func stakeOp(id, marketID string, user types.Identity, amount uint64, pos types.Position) *types.PendingOperation {
	return &types.PendingOperation{
		ID: id, Kind: types.OperationStake, MarketID: marketID, User: user,
		Amount: amount, Position: pos, CreatedAt: base, UpdatedAt: base,
	}
}

func refundOp(id, marketID string, user types.Identity, amount uint64, pos types.Position) *types.PendingOperation {
	return &types.PendingOperation{
		ID: id, Kind: types.OperationSettle, MarketID: marketID, User: user,
		Amount: amount, Position: pos, PayoutKind: "REFUND_UNRESOLVED", CreatedAt: base, UpdatedAt: base,
	}
}

func participation(marketID string, user types.Identity, amount uint64, pos types.Position) *types.Participation {
	return &types.Participation{MarketID: marketID, User: user, Amount: amount, Position: pos, CreatedAt: base}
}

// admit runs the full pending-then-commit path for one stake.
func admit(t *testing.T, s Store, opID string, p *types.Participation) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.InsertPending(ctx, stakeOp(opID, p.MarketID, p.User, p.Amount, p.Position)))
	require.NoError(t, s.CommitStake(ctx, &types.PendingOperation{ID: opID}, p))
}

func TestStore_MarketRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		m := newMarket("m1", base)
		m.Description = "details"
		require.NoError(t, s.InsertMarket(ctx, m))

		got, err := s.GetMarket(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, m.ID, got.ID)
		assert.Equal(t, m.Creator, got.Creator)
		assert.Equal(t, m.EscrowRef, got.EscrowRef)
		assert.Equal(t, "details", got.Description)
		assert.Equal(t, types.MarketStatusActive, got.Status)
		assert.Nil(t, got.Outcome)
		assert.Nil(t, got.ResolvedAt)
		assert.True(t, m.ExpiresAt.Equal(got.ExpiresAt))
		assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
		assert.Equal(t, uint64(10), got.MinBet)
		assert.Equal(t, uint64(1000), got.MaxBet)

		err = s.InsertMarket(ctx, m)
		assert.True(t, errors.Is(err, types.ErrConflict), "got %v", err)

		_, err = s.GetMarket(ctx, "missing")
		assert.True(t, errors.Is(err, types.ErrNotFound))
	})
}

func TestStore_ListMarkets(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			m := newMarket(fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Minute))
			if i%2 == 0 {
				m.Creator = "0xother"
			}
			require.NoError(t, s.InsertMarket(ctx, m))
		}
		require.NoError(t, s.CommitResolve(ctx, "m4", types.PositionYes, base))

		all, total, err := s.ListMarkets(ctx, ListFilter{})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, all, 5)
		assert.Equal(t, "m4", all[0].ID, "newest first")

		page, total, err := s.ListMarkets(ctx, ListFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, page, 2)
		assert.Equal(t, "m3", page[0].ID)
		assert.Equal(t, "m2", page[1].ID)

		active, total, err := s.ListMarkets(ctx, ListFilter{Status: types.MarketStatusActive})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Len(t, active, 4)

		byCreator, total, err := s.ListMarkets(ctx, ListFilter{Creator: "0xother", Status: types.MarketStatusActive})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Len(t, byCreator, 2)

		empty, total, err := s.ListMarkets(ctx, ListFilter{Offset: 10})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Empty(t, empty)
	})
}

func TestStore_ListMarketsByParticipant(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 0; i < 4; i++ {
			require.NoError(t, s.InsertMarket(ctx, newMarket(fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Minute))))
		}
		admit(t, s, "op-1", participation("m0", "0xa", 100, types.PositionYes))
		admit(t, s, "op-2", participation("m2", "0xa", 50, types.PositionNo))
		admit(t, s, "op-3", participation("m2", "0xb", 50, types.PositionYes))
		admit(t, s, "op-4", participation("m3", "0xb", 50, types.PositionYes))
		require.NoError(t, s.CommitResolve(ctx, "m2", types.PositionYes, base))

		mine, total, err := s.ListMarkets(ctx, ListFilter{Participant: "0xa"})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, mine, 2)
		assert.Equal(t, "m2", mine[0].ID, "newest first")
		assert.Equal(t, "m0", mine[1].ID)

		page, total, err := s.ListMarkets(ctx, ListFilter{Participant: "0xa", Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, page, 1)
		assert.Equal(t, "m0", page[0].ID)

		resolved, total, err := s.ListMarkets(ctx, ListFilter{Participant: "0xb", Status: types.MarketStatusResolved})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, resolved, 1)
		assert.Equal(t, "m2", resolved[0].ID)

		none, total, err := s.ListMarkets(ctx, ListFilter{Participant: "0xnobody"})
		require.NoError(t, err)
		assert.Equal(t, 0, total)
		assert.Empty(t, none)
	})
}

func TestStore_CommitStake(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertMarket(ctx, newMarket("m1", base)))

		admit(t, s, "op-a", participation("m1", "0xa", 300, types.PositionYes))
		admit(t, s, "op-b", participation("m1", "0xb", 700, types.PositionNo))

		m, err := s.GetMarket(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, uint64(1000), m.TotalPool)
		assert.Equal(t, uint64(300), m.YesPool)
		assert.Equal(t, uint64(700), m.NoPool)

		p, err := s.GetParticipation(ctx, "m1", "0xa")
		require.NoError(t, err)
		assert.Equal(t, uint64(300), p.Amount)
		assert.Equal(t, types.PositionYes, p.Position)
		assert.False(t, p.Claimed)

		ps, err := s.ListParticipations(ctx, "m1")
		require.NoError(t, err)
		assert.Len(t, ps, 2)

		_, err = s.GetPending(ctx, types.OperationStake, "m1", "0xa")
		assert.True(t, errors.Is(err, types.ErrNotFound), "committed ops are no longer pending")

		pending, err := s.ListPending(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}

func TestStore_CommitStakeRejectsDuplicateWithoutSideEffects(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertMarket(ctx, newMarket("m1", base)))
		admit(t, s, "op-1", participation("m1", "0xa", 100, types.PositionYes))

		require.NoError(t, s.InsertPending(ctx, stakeOp("op-2", "m1", "0xa", 50, types.PositionNo)))
		err := s.CommitStake(ctx, &types.PendingOperation{ID: "op-2"}, participation("m1", "0xa", 50, types.PositionNo))
		assert.True(t, errors.Is(err, types.ErrDuplicateParticipation), "got %v", err)

		m, err := s.GetMarket(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, uint64(100), m.TotalPool)
		assert.Equal(t, uint64(0), m.NoPool)

		op, err := s.GetPending(ctx, types.OperationStake, "m1", "0xa")
		require.NoError(t, err)
		assert.Equal(t, "op-2", op.ID, "failed commit leaves the operation pending")
	})
}

func TestStore_CommitStakeOnResolvedMarket(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertMarket(ctx, newMarket("m1", base)))
		require.NoError(t, s.CommitResolve(ctx, "m1", types.PositionNo, base))

		require.NoError(t, s.InsertPending(ctx, stakeOp("op-1", "m1", "0xa", 50, types.PositionYes)))
		err := s.CommitStake(ctx, &types.PendingOperation{ID: "op-1"}, participation("m1", "0xa", 50, types.PositionYes))
		assert.True(t, errors.Is(err, types.ErrInvalidState), "got %v", err)

		_, err = s.GetParticipation(ctx, "m1", "0xa")
		assert.True(t, errors.Is(err, types.ErrNotFound))
	})
}

func TestStore_PendingUniqueness(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertPending(ctx, stakeOp("op-1", "m1", "0xa", 50, types.PositionYes)))

		err := s.InsertPending(ctx, stakeOp("op-2", "m1", "0xa", 60, types.PositionYes))
		assert.True(t, errors.Is(err, types.ErrConflict), "got %v", err)

		// a settle for the same key is a different kind
		settle := stakeOp("op-3", "m1", "0xa", 0, "")
		settle.Kind = types.OperationSettle
		require.NoError(t, s.InsertPending(ctx, settle))

		require.NoError(t, s.AbortPending(ctx, "op-1", "transfer failed", base))
		require.NoError(t, s.InsertPending(ctx, stakeOp("op-4", "m1", "0xa", 60, types.PositionYes)))

		err = s.AbortPending(ctx, "op-1", "again", base)
		assert.True(t, errors.Is(err, types.ErrNotFound))

		pending, err := s.ListPending(ctx)
		require.NoError(t, err)
		ids := make([]string, 0, len(pending))
		for _, op := range pending {
			ids = append(ids, op.ID)
		}
		assert.ElementsMatch(t, []string{"op-3", "op-4"}, ids)
	})
}

func TestStore_CommitResolve(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertMarket(ctx, newMarket("m1", base)))

		at := base.Add(time.Hour)
		require.NoError(t, s.CommitResolve(ctx, "m1", types.PositionYes, at))

		m, err := s.GetMarket(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, types.MarketStatusResolved, m.Status)
		require.NotNil(t, m.Outcome)
		assert.Equal(t, types.PositionYes, *m.Outcome)
		require.NotNil(t, m.ResolvedAt)
		assert.True(t, at.Equal(*m.ResolvedAt))

		err = s.CommitResolve(ctx, "m1", types.PositionNo, at)
		assert.True(t, errors.Is(err, types.ErrInvalidState), "got %v", err)

		err = s.CommitResolve(ctx, "missing", types.PositionNo, at)
		assert.True(t, errors.Is(err, types.ErrNotFound), "got %v", err)
	})
}

func TestStore_UnresolvedRefundBlocksResolve(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertMarket(ctx, newMarket("m1", base)))
		admit(t, s, "stake-1", participation("m1", "0xa", 70, types.PositionNo))

		op := refundOp("refund-1", "m1", "0xa", 70, types.PositionNo)
		require.NoError(t, s.InsertPending(ctx, op))

		m, err := s.GetMarket(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, 1, m.Refunds)

		// a refund in flight already pins the market
		err = s.CommitResolve(ctx, "m1", types.PositionYes, base)
		assert.True(t, errors.Is(err, types.ErrInvalidState), "got %v", err)

		require.NoError(t, s.CommitSettle(ctx, op, base.Add(time.Minute)))
		err = s.CommitResolve(ctx, "m1", types.PositionYes, base)
		assert.True(t, errors.Is(err, types.ErrInvalidState), "got %v", err)

		m, err = s.GetMarket(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, types.MarketStatusActive, m.Status)
		assert.Equal(t, 1, m.Refunds)

		got, err := s.ListPending(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestStore_AbortedRefundReleasesMarket(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertMarket(ctx, newMarket("m1", base)))
		admit(t, s, "stake-1", participation("m1", "0xa", 70, types.PositionNo))

		op := refundOp("refund-1", "m1", "0xa", 70, types.PositionNo)
		require.NoError(t, s.InsertPending(ctx, op))

		stored, err := s.GetPending(ctx, types.OperationSettle, "m1", "0xa")
		require.NoError(t, err)
		assert.Equal(t, "REFUND_UNRESOLVED", stored.PayoutKind)

		require.NoError(t, s.AbortPending(ctx, op.ID, "transfer refused", base))

		m, err := s.GetMarket(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, 0, m.Refunds)
		require.NoError(t, s.CommitResolve(ctx, "m1", types.PositionYes, base))
	})
}

func TestStore_RefundRefusedOnResolvedMarket(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertMarket(ctx, newMarket("m1", base)))
		admit(t, s, "stake-1", participation("m1", "0xa", 70, types.PositionNo))
		require.NoError(t, s.CommitResolve(ctx, "m1", types.PositionYes, base))

		err := s.InsertPending(ctx, refundOp("refund-1", "m1", "0xa", 70, types.PositionNo))
		assert.True(t, errors.Is(err, types.ErrInvalidState), "got %v", err)

		_, err = s.GetPending(ctx, types.OperationSettle, "m1", "0xa")
		assert.True(t, errors.Is(err, types.ErrNotFound), "nothing recorded, got %v", err)
	})
}

func TestStore_CommitSettle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertMarket(ctx, newMarket("m1", base)))
		admit(t, s, "stake-1", participation("m1", "0xa", 100, types.PositionYes))

		op := &types.PendingOperation{
			ID: "settle-1", Kind: types.OperationSettle, MarketID: "m1", User: "0xa",
			Amount: 100, CreatedAt: base, UpdatedAt: base,
		}
		require.NoError(t, s.InsertPending(ctx, op))
		require.NoError(t, s.CommitSettle(ctx, op, base.Add(time.Minute)))

		p, err := s.GetParticipation(ctx, "m1", "0xa")
		require.NoError(t, err)
		assert.True(t, p.Claimed)
		require.NotNil(t, p.ClaimedAt)

		second := *op
		second.ID = "settle-2"
		require.NoError(t, s.InsertPending(ctx, &second))
		err = s.CommitSettle(ctx, &second, base.Add(2*time.Minute))
		assert.True(t, errors.Is(err, types.ErrAlreadyClaimed), "got %v", err)

		// committing an operation twice is refused
		err = s.CommitSettle(ctx, op, base)
		assert.True(t, errors.Is(err, types.ErrConflict), "got %v", err)
	})
}

func TestStore_DeleteMarket(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertMarket(ctx, newMarket("m1", base)))
		admit(t, s, "op-1", participation("m1", "0xa", 100, types.PositionYes))

		require.NoError(t, s.DeleteMarket(ctx, "m1"))

		_, err := s.GetMarket(ctx, "m1")
		assert.True(t, errors.Is(err, types.ErrNotFound))
		ps, err := s.ListParticipations(ctx, "m1")
		require.NoError(t, err)
		assert.Empty(t, ps)

		err = s.DeleteMarket(ctx, "m1")
		assert.True(t, errors.Is(err, types.ErrNotFound))
	})
}

func TestListFilter_Normalize(t *testing.T) {
	assert.Equal(t, DefaultListLimit, ListFilter{}.Normalize().Limit)
	assert.Equal(t, MaxListLimit, ListFilter{Limit: 10_000}.Normalize().Limit)
	assert.Equal(t, 0, ListFilter{Offset: -3}.Normalize().Offset)
}
