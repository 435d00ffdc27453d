package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mselser95/parimutuel/internal/custody"
	"github.com/mselser95/parimutuel/pkg/types"
	"go.uber.org/zap"
)

// Depositor is implemented by ledgers that can mint funds into an account.
// Only the paper ledger does.
type Depositor interface {
	Deposit(ctx context.Context, account types.Identity, amount uint64) (uint64, error)
}

// AccountsHandler serves balances and paper deposits.
type AccountsHandler struct {
	ledger custody.Ledger
	logger *zap.Logger
}

// NewAccountsHandler creates a new accounts handler.
func NewAccountsHandler(ledger custody.Ledger, logger *zap.Logger) *AccountsHandler {
	return &AccountsHandler{ledger: ledger, logger: logger}
}

// DepositRequest is the body of POST /api/accounts/{account}/deposit.
type DepositRequest struct {
	Amount uint64 `json:"amount"`
}

// BalanceResponse reports an account balance.
type BalanceResponse struct {
	Account types.Identity `json:"account"`
	Balance uint64         `json:"balance"`
}

// Balance handles GET /api/accounts/{account}.
func (h *AccountsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	account := types.NormalizeIdentity(chi.URLParam(r, "account"))

	bal, err := h.ledger.Balance(r.Context(), account)
	if err != nil {
		var te *types.TransferError
		if errors.As(err, &te) && te.Code == types.TransferUnknownAccount {
			err = fmt.Errorf("account %s: %w", account, types.ErrNotFound)
		}
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, BalanceResponse{Account: account, Balance: bal})
}

// Deposit handles POST /api/accounts/{account}/deposit. Callers may only fund
// their own account.
func (h *AccountsHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	account := types.NormalizeIdentity(chi.URLParam(r, "account"))
	if account.IsEscrow() {
		writeError(w, r, h.logger, fmt.Errorf("deposit into escrow %s: %w", account, types.ErrUnauthorized))
		return
	}
	if who := caller(r); who != account {
		writeError(w, r, h.logger, fmt.Errorf("deposit to %s as %s: %w", account, who, types.ErrUnauthorized))
		return
	}

	var req DepositRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.Amount == 0 {
		writeError(w, r, h.logger, fmt.Errorf("%w: deposit amount must be positive", types.ErrInvalidParameters))
		return
	}

	depositor, ok := h.ledger.(Depositor)
	if !ok {
		writeError(w, r, h.logger, fmt.Errorf("%w: ledger does not accept deposits", types.ErrInvalidState))
		return
	}

	bal, err := depositor.Deposit(r.Context(), account, req.Amount)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.Info("account-funded",
		zap.String("account", account.String()),
		zap.Uint64("amount", req.Amount))
	writeJSON(w, h.logger, http.StatusOK, BalanceResponse{Account: account, Balance: bal})
}
