package custody

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/mselser95/parimutuel/pkg/types"
	"go.uber.org/zap"
)

// PaperLedger is an in-memory ledger. Participant accounts come into existence on
// their first deposit; escrow accounts on Allocate.
type PaperLedger struct {
	mu       sync.Mutex
	balances map[types.Identity]uint64
	applied  map[string]Transfer
	logger   *zap.Logger
}

// NewPaperLedger creates an empty paper ledger.
func NewPaperLedger(logger *zap.Logger) *PaperLedger {
	logger.Info("paper-ledger-initialized")
	return &PaperLedger{
		balances: make(map[types.Identity]uint64),
		applied:  make(map[string]Transfer),
		logger:   logger,
	}
}

// Allocate creates a zero-balance escrow account for the market.
func (l *PaperLedger) Allocate(ctx context.Context, marketID string) (string, error) {
	if marketID == "" {
		return "", fmt.Errorf("market id cannot be empty")
	}
	ref := EscrowRef(marketID)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.balances[types.Identity(ref)]; exists {
		return "", fmt.Errorf("escrow %s already allocated", ref)
	}
	l.balances[types.Identity(ref)] = 0
	EscrowAccountsTotal.Inc()

	l.logger.Debug("escrow-allocated", zap.String("escrow-ref", ref))
	return ref, nil
}

// Deposit credits an account from outside the system. Paper mode only.
func (l *PaperLedger) Deposit(ctx context.Context, account types.Identity, amount uint64) (uint64, error) {
	if account == "" || amount == 0 {
		return 0, &types.TransferError{Code: types.TransferInvalid, Message: "deposit needs an account and a positive amount"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balances[account]
	if bal > math.MaxUint64-amount {
		return 0, &types.TransferError{Code: types.TransferInvalid, Message: "deposit overflows balance"}
	}
	l.balances[account] = bal + amount
	TransfersTotal.WithLabelValues("deposit").Inc()

	l.logger.Debug("deposit-applied",
		zap.String("account", account.String()),
		zap.Uint64("amount", amount),
		zap.Uint64("balance", bal+amount))
	return bal + amount, nil
}

// Move applies t once. A second Move with the same ID and the same legs succeeds
// without moving funds again.
func (l *PaperLedger) Move(ctx context.Context, t Transfer) error {
	if t.ID == "" || t.From == "" || t.To == "" || t.Amount == 0 || t.From == t.To {
		return l.fail(&types.TransferError{Code: types.TransferInvalid, Message: "malformed transfer", TransferID: t.ID})
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.applied[t.ID]; ok {
		if prev != t {
			return l.fail(&types.TransferError{
				Code:       types.TransferInvalid,
				Message:    "transfer id reused with different legs",
				TransferID: t.ID,
			})
		}
		TransferReplaysTotal.Inc()
		l.logger.Debug("transfer-replayed", zap.String("transfer-id", t.ID))
		return nil
	}

	fromBal, fromOK := l.balances[t.From]
	if !fromOK {
		return l.fail(&types.TransferError{
			Code:       types.TransferUnknownAccount,
			Message:    fmt.Sprintf("unknown source account %s", t.From),
			TransferID: t.ID,
		})
	}
	if t.To.IsEscrow() {
		if _, ok := l.balances[t.To]; !ok {
			return l.fail(&types.TransferError{
				Code:       types.TransferUnknownAccount,
				Message:    fmt.Sprintf("unknown escrow account %s", t.To),
				TransferID: t.ID,
			})
		}
	}
	if fromBal < t.Amount {
		return l.fail(&types.TransferError{
			Code:       types.TransferInsufficientFunds,
			Message:    fmt.Sprintf("balance %d below %d", fromBal, t.Amount),
			TransferID: t.ID,
		})
	}
	toBal := l.balances[t.To]
	if toBal > math.MaxUint64-t.Amount {
		return l.fail(&types.TransferError{Code: types.TransferInvalid, Message: "credit overflows balance", TransferID: t.ID})
	}

	l.balances[t.From] = fromBal - t.Amount
	l.balances[t.To] = toBal + t.Amount
	l.applied[t.ID] = t
	TransfersTotal.WithLabelValues(direction(t)).Inc()

	l.logger.Debug("transfer-applied",
		zap.String("transfer-id", t.ID),
		zap.String("from", t.From.String()),
		zap.String("to", t.To.String()),
		zap.Uint64("amount", t.Amount))
	return nil
}

// Balance returns the balance of account, or an UNKNOWN_ACCOUNT transfer error.
func (l *PaperLedger) Balance(ctx context.Context, account types.Identity) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.balances[account]
	if !ok {
		return 0, &types.TransferError{
			Code:    types.TransferUnknownAccount,
			Message: fmt.Sprintf("unknown account %s", account),
		}
	}
	return bal, nil
}

func (l *PaperLedger) fail(err *types.TransferError) error {
	TransferFailuresTotal.WithLabelValues(err.Code).Inc()
	l.logger.Warn("transfer-rejected",
		zap.String("transfer-id", err.TransferID),
		zap.String("code", err.Code),
		zap.String("reason", err.Message))
	return err
}

func direction(t Transfer) string {
	switch {
	case t.To.IsEscrow():
		return "credit"
	case t.From.IsEscrow():
		return "debit"
	default:
		return "peer"
	}
}
