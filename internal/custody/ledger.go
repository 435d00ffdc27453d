// Package custody holds market escrow funds and moves value between accounts.
package custody

import (
	"context"

	"github.com/mselser95/parimutuel/pkg/types"
)

// Transfer moves Amount from one account to another. ID is an idempotency key:
// applying the same ID twice moves funds once.
type Transfer struct {
	ID     string
	From   types.Identity
	To     types.Identity
	Amount uint64
}

// Ledger is the fund-transfer capability the lifecycle controller calls through.
type Ledger interface {
	// Allocate creates the escrow custody unit for a market and returns its reference.
	Allocate(ctx context.Context, marketID string) (string, error)

	// Move applies a transfer atomically. It fails with *types.TransferError and moves
	// nothing when the source balance is below Amount.
	Move(ctx context.Context, t Transfer) error

	// Balance returns the current balance of an account.
	Balance(ctx context.Context, account types.Identity) (uint64, error)
}

// EscrowRef returns the escrow account name for a market.
func EscrowRef(marketID string) string {
	return types.EscrowPrefix + marketID
}
