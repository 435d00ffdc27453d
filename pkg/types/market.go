package types

import (
	"fmt"
	"strings"
	"time"
)

// Identity is the normalized address of an account (creator, participant or escrow).
type Identity string

// NormalizeIdentity lowercases and trims an identity so hex addresses compare equal
// regardless of checksum casing.
func NormalizeIdentity(s string) Identity {
	return Identity(strings.ToLower(strings.TrimSpace(s)))
}

// EscrowPrefix starts the account name of every market escrow.
const EscrowPrefix = "escrow:"

// String returns the identity as a plain string.
func (i Identity) String() string {
	return string(i)
}

// IsEscrow reports whether i names a market escrow rather than a user.
func (i Identity) IsEscrow() bool {
	return strings.HasPrefix(string(i), EscrowPrefix)
}

// Position is the side of a binary proposition.
type Position string

const (
	PositionYes Position = "YES"
	PositionNo  Position = "NO"
)

// ParsePosition accepts YES/Yes/yes and NO/No/no.
func ParsePosition(s string) (Position, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(PositionYes):
		return PositionYes, nil
	case string(PositionNo):
		return PositionNo, nil
	default:
		return "", fmt.Errorf("%w: unknown position %q", ErrInvalidParameters, s)
	}
}

// Valid reports whether p is one of the two outcomes.
func (p Position) Valid() bool {
	return p == PositionYes || p == PositionNo
}

// MarketStatus is the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "ACTIVE"
	MarketStatusResolved MarketStatus = "RESOLVED"

	// Reserved. No operation transitions into these; they exist so stored records
	// written by other tooling still parse.
	MarketStatusClosed   MarketStatus = "CLOSED"
	MarketStatusDisputed MarketStatus = "DISPUTED"
)

// Valid reports whether s is a known status.
func (s MarketStatus) Valid() bool {
	switch s {
	case MarketStatusActive, MarketStatusResolved, MarketStatusClosed, MarketStatusDisputed:
		return true
	}
	return false
}

// Market is one binary betting proposition with its pools, status and outcome.
type Market struct {
	ID          string       `json:"id"`
	Creator     Identity     `json:"creator"`
	EscrowRef   string       `json:"escrow_ref"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	TotalPool   uint64       `json:"total_pool"`
	YesPool     uint64       `json:"yes_pool"`
	NoPool      uint64       `json:"no_pool"`
	ExpiresAt   time.Time    `json:"expires_at"`
	Status      MarketStatus `json:"status"`
	Outcome     *Position    `json:"outcome,omitempty"`
	MinBet      uint64       `json:"min_bet"`
	MaxBet      uint64       `json:"max_bet"`
	CreatedAt   time.Time    `json:"created_at"`
	ResolvedAt  *time.Time   `json:"resolved_at,omitempty"`

	// Refunds counts stakes refunded (or being refunded) while the market was
	// unresolved. Once non-zero the market can no longer be resolved.
	Refunds int `json:"refunds,omitempty"`
}

// PoolFor returns the pool total staked on the given side.
func (m *Market) PoolFor(p Position) uint64 {
	if p == PositionYes {
		return m.YesPool
	}
	return m.NoPool
}

// IsExpired reports whether now is at or past the expiry time.
func (m *Market) IsExpired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}

// Settleable reports whether participations may be settled at now: the market is
// resolved, or it has expired without resolution.
func (m *Market) Settleable(now time.Time) bool {
	return m.Status == MarketStatusResolved || m.IsExpired(now)
}

// Clone returns a deep copy so cached snapshots are never mutated by callers.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	c := *m
	if m.Outcome != nil {
		o := *m.Outcome
		c.Outcome = &o
	}
	if m.ResolvedAt != nil {
		r := *m.ResolvedAt
		c.ResolvedAt = &r
	}
	return &c
}

// String returns a compact human-readable representation.
func (m *Market) String() string {
	outcome := "-"
	if m.Outcome != nil {
		outcome = string(*m.Outcome)
	}
	return fmt.Sprintf(
		"Market[%s] status=%s outcome=%s pool=%d yes=%d no=%d expires=%s",
		m.ID, m.Status, outcome, m.TotalPool, m.YesPool, m.NoPool,
		m.ExpiresAt.UTC().Format(time.RFC3339),
	)
}
