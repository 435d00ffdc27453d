// Package payout computes what a settled participation is owed.
//
// Compute is a pure function of a market snapshot and a participation snapshot.
// Winner shares use a 256-bit intermediate so total*amount never overflows and the
// result is bit-exact across platforms.
package payout

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mselser95/parimutuel/pkg/types"
)

// ErrInconsistentSnapshot is returned when the market and participation snapshots
// cannot both be true (for example a stake larger than its own side's pool).
var ErrInconsistentSnapshot = errors.New("inconsistent market/participation snapshot")

// Kind explains which branch produced a quote.
type Kind string

const (
	KindRefundUnresolved  Kind = "REFUND_UNRESOLVED"
	KindRefundEmptyWinner Kind = "REFUND_EMPTY_WINNING_POOL"
	KindLoss              Kind = "LOSS"
	KindWin               Kind = "WIN"
)

// Quote is the amount owed to one participation.
type Quote struct {
	Amount uint64 `json:"amount"`
	Kind   Kind   `json:"kind"`
}

// Compute returns the amount owed for p under market m.
func Compute(m *types.Market, p *types.Participation) (Quote, error) {
	if m == nil || p == nil {
		return Quote{}, fmt.Errorf("%w: nil snapshot", ErrInconsistentSnapshot)
	}
	if p.MarketID != m.ID {
		return Quote{}, fmt.Errorf("%w: participation for market %s, got market %s",
			ErrInconsistentSnapshot, p.MarketID, m.ID)
	}
	if m.TotalPool != m.YesPool+m.NoPool {
		return Quote{}, fmt.Errorf("%w: total pool %d != yes %d + no %d",
			ErrInconsistentSnapshot, m.TotalPool, m.YesPool, m.NoPool)
	}

	// Expired without resolution: principal back.
	if m.Outcome == nil {
		return Quote{Amount: p.Amount, Kind: KindRefundUnresolved}, nil
	}

	winner := *m.Outcome
	winningPool := m.PoolFor(winner)

	// Nobody staked the winning side, so there is nobody to pay the pool to.
	if winningPool == 0 {
		return Quote{Amount: p.Amount, Kind: KindRefundEmptyWinner}, nil
	}

	if p.Position != winner {
		return Quote{Amount: 0, Kind: KindLoss}, nil
	}

	if p.Amount > winningPool {
		return Quote{}, fmt.Errorf("%w: stake %d exceeds winning pool %d",
			ErrInconsistentSnapshot, p.Amount, winningPool)
	}

	amount, err := Share(m.TotalPool, p.Amount, winningPool)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Amount: amount, Kind: KindWin}, nil
}

// Share returns floor(total * stake / winningPool).
func Share(total, stake, winningPool uint64) (uint64, error) {
	if winningPool == 0 {
		return 0, fmt.Errorf("%w: zero winning pool", ErrInconsistentSnapshot)
	}
	var z uint256.Int
	_, overflow := z.MulDivOverflow(uint256.NewInt(total), uint256.NewInt(stake), uint256.NewInt(winningPool))
	if overflow || !z.IsUint64() {
		return 0, fmt.Errorf("%w: share of %d*%d/%d does not fit in 64 bits",
			ErrInconsistentSnapshot, total, stake, winningPool)
	}
	return z.Uint64(), nil
}

// Dust returns the part of the pool that floor division leaves unpaid when every
// participation in ps settles against m.
func Dust(m *types.Market, ps []*types.Participation) (uint64, error) {
	var paid uint64
	for _, p := range ps {
		q, err := Compute(m, p)
		if err != nil {
			return 0, err
		}
		paid += q.Amount
	}
	if paid > m.TotalPool {
		return 0, fmt.Errorf("%w: payouts %d exceed pool %d", ErrInconsistentSnapshot, paid, m.TotalPool)
	}
	return m.TotalPool - paid, nil
}
