package types

import (
	"errors"
	"fmt"
)

// Operation failure kinds. Every one of them aborts the operation with no state change.
var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidState           = errors.New("invalid market state")
	ErrMarketExpired          = errors.New("market expired")
	ErrInvalidAmount          = errors.New("stake amount outside market bounds")
	ErrInvalidParameters      = errors.New("invalid parameters")
	ErrDuplicateParticipation = errors.New("participation already exists")
	ErrAlreadyClaimed         = errors.New("participation already claimed")
	ErrNotSettleable          = errors.New("market is neither resolved nor expired")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflicting operation in flight")
	ErrNotReclaimable         = errors.New("market has unsettled participations")
)

// TransferError represents a failure reported by the fund-transfer capability.
// It is propagated to callers unchanged.
type TransferError struct {
	Code       string // machine-readable failure code
	Message    string // human-readable detail
	TransferID string // idempotency key of the failed transfer, if any
}

func (e *TransferError) Error() string {
	if e.TransferID != "" {
		return fmt.Sprintf("transfer %s failed: %s (%s)", e.TransferID, e.Message, e.Code)
	}
	return fmt.Sprintf("transfer failed: %s (%s)", e.Message, e.Code)
}

// Known transfer failure codes.
const (
	TransferInsufficientFunds = "INSUFFICIENT_FUNDS"
	TransferUnknownAccount    = "UNKNOWN_ACCOUNT"
	TransferInvalid           = "INVALID_TRANSFER"
)

// IsTransferError reports whether err wraps a *TransferError.
func IsTransferError(err error) bool {
	var te *TransferError
	return errors.As(err, &te)
}
