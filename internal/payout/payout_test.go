package payout

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/mselser95/parimutuel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolvedMarket(yes, no uint64, outcome types.Position) *types.Market {
	return &types.Market{
		ID:        "market-1",
		YesPool:   yes,
		NoPool:    no,
		TotalPool: yes + no,
		Status:    types.MarketStatusResolved,
		Outcome:   &outcome,
	}
}

func stake(amount uint64, pos types.Position) *types.Participation {
	return &types.Participation{MarketID: "market-1", User: "0xuser", Amount: amount, Position: pos}
}

func TestCompute_Branches(t *testing.T) {
	tests := []struct {
		name       string
		market     *types.Market
		part       *types.Participation
		wantAmount uint64
		wantKind   Kind
	}{
		{
			name: "unresolved-refund",
			market: &types.Market{
				ID: "market-1", YesPool: 300, NoPool: 700, TotalPool: 1000,
				Status: types.MarketStatusActive,
			},
			part:       stake(300, types.PositionYes),
			wantAmount: 300,
			wantKind:   KindRefundUnresolved,
		},
		{
			name:       "winner-takes-whole-pool",
			market:     resolvedMarket(300, 700, types.PositionYes),
			part:       stake(300, types.PositionYes),
			wantAmount: 1000,
			wantKind:   KindWin,
		},
		{
			name:       "loser-gets-nothing",
			market:     resolvedMarket(300, 700, types.PositionYes),
			part:       stake(700, types.PositionNo),
			wantAmount: 0,
			wantKind:   KindLoss,
		},
		{
			name:       "empty-winning-pool-refunds-staker",
			market:     resolvedMarket(300, 0, types.PositionNo),
			part:       stake(300, types.PositionYes),
			wantAmount: 300,
			wantKind:   KindRefundEmptyWinner,
		},
		{
			name:       "proportional-share-floors",
			market:     resolvedMarket(300, 100, types.PositionYes),
			part:       stake(100, types.PositionYes),
			wantAmount: 133, // floor(400*100/300)
			wantKind:   KindWin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Compute(tt.market, tt.part)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAmount, q.Amount)
			assert.Equal(t, tt.wantKind, q.Kind)
		})
	}
}

func TestCompute_InconsistentSnapshots(t *testing.T) {
	t.Run("stake-larger-than-winning-pool", func(t *testing.T) {
		_, err := Compute(resolvedMarket(100, 100, types.PositionYes), stake(500, types.PositionYes))
		assert.True(t, errors.Is(err, ErrInconsistentSnapshot))
	})

	t.Run("pool-invariant-broken", func(t *testing.T) {
		m := resolvedMarket(100, 100, types.PositionYes)
		m.TotalPool = 150
		_, err := Compute(m, stake(100, types.PositionYes))
		assert.True(t, errors.Is(err, ErrInconsistentSnapshot))
	})

	t.Run("wrong-market", func(t *testing.T) {
		p := stake(100, types.PositionYes)
		p.MarketID = "other"
		_, err := Compute(resolvedMarket(100, 100, types.PositionYes), p)
		assert.True(t, errors.Is(err, ErrInconsistentSnapshot))
	})

	t.Run("nil", func(t *testing.T) {
		_, err := Compute(nil, nil)
		assert.True(t, errors.Is(err, ErrInconsistentSnapshot))
	})
}

func TestShare_WideIntermediate(t *testing.T) {
	// total*stake overflows 64 bits but the quotient does not.
	total := uint64(math.MaxUint64)
	stakeAmt := uint64(math.MaxUint64 / 2)
	winning := uint64(math.MaxUint64 / 2)

	got, err := Share(total, stakeAmt, winning)
	require.NoError(t, err)
	assert.Equal(t, total, got)

	got, err = Share(1<<63, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(3)<<61, got)
}

func TestShare_ZeroWinningPool(t *testing.T) {
	_, err := Share(10, 1, 0)
	assert.True(t, errors.Is(err, ErrInconsistentSnapshot))
}

func TestCompute_ConservationNeverOverpays(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		n := 1 + rng.Intn(20)
		parts := make([]*types.Participation, 0, n)
		var yes, no uint64
		for i := 0; i < n; i++ {
			amt := uint64(1 + rng.Intn(1_000_000))
			pos := types.PositionYes
			if rng.Intn(2) == 0 {
				pos = types.PositionNo
			}
			if pos == types.PositionYes {
				yes += amt
			} else {
				no += amt
			}
			parts = append(parts, stake(amt, pos))
		}
		m := resolvedMarket(yes, no, types.PositionYes)

		var paid uint64
		for _, p := range parts {
			q, err := Compute(m, p)
			require.NoError(t, err)
			paid += q.Amount
		}
		require.LessOrEqual(t, paid, m.TotalPool, "round %d overpaid", round)

		dust, err := Dust(m, parts)
		require.NoError(t, err)
		assert.Equal(t, m.TotalPool-paid, dust)
		if yes > 0 {
			// floor loses strictly less than one unit per winner
			assert.Less(t, dust, uint64(n)+1)
		}
	}
}

func TestCompute_Deterministic(t *testing.T) {
	m := resolvedMarket(333, 667, types.PositionYes)
	p := stake(111, types.PositionYes)

	first, err := Compute(m, p)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Compute(m, p)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, uint64(333), first.Amount) // floor(1000*111/333)
}
