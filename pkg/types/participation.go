package types

import "time"

// Participation is one user's stake on one market.
type Participation struct {
	MarketID  string     `json:"market_id"`
	User      Identity   `json:"user"`
	Amount    uint64     `json:"amount"`
	Position  Position   `json:"position"`
	Claimed   bool       `json:"claimed"`
	CreatedAt time.Time  `json:"created_at"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

// OperationKind tags a pending operation.
type OperationKind string

const (
	OperationStake  OperationKind = "STAKE"
	OperationSettle OperationKind = "SETTLE"
)

// OperationState is the progress of a pending operation.
type OperationState string

const (
	OperationPending   OperationState = "PENDING"
	OperationCommitted OperationState = "COMMITTED"
	OperationAborted   OperationState = "ABORTED"
)

// PendingOperation is the write-ahead record that bundles a fund transfer with the
// ledger mutation it pays for. The ID doubles as the transfer idempotency key.
type PendingOperation struct {
	ID        string         `json:"id"`
	Kind      OperationKind  `json:"kind"`
	MarketID  string         `json:"market_id"`
	User      Identity       `json:"user"`
	Amount    uint64         `json:"amount"`
	Position  Position       `json:"position,omitempty"`
	State     OperationState `json:"state"`
	Reason    string         `json:"reason,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`

	// PayoutKind is the settlement branch Amount was computed under.
	PayoutKind string `json:"payout_kind,omitempty"`
}

// EventType names a lifecycle notification.
type EventType string

const (
	EventMarketCreated  EventType = "market_created"
	EventStakeAdmitted  EventType = "stake_admitted"
	EventMarketResolved EventType = "market_resolved"
	EventSettled        EventType = "settled"
	EventReclaimed      EventType = "market_reclaimed"
)

// Event is published after a state change has been committed.
type Event struct {
	Type     EventType `json:"type"`
	MarketID string    `json:"market_id"`
	User     Identity  `json:"user,omitempty"`
	Amount   uint64    `json:"amount,omitempty"`
	Position Position  `json:"position,omitempty"`
	Outcome  Position  `json:"outcome,omitempty"`
	At       time.Time `json:"at"`
}
