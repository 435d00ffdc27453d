// Package lock serializes operations that touch the same market or participation.
package lock

import (
	"context"
	"errors"
)

// ErrLockHeld is returned when a lock could not be obtained before the wait deadline.
var ErrLockHeld = errors.New("lock already held")

// Locker hands out exclusive locks by key. Acquire blocks until the lock is free,
// ctx is done, or the implementation's wait deadline passes. The returned release
// func is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// MarketKey guards every state change of one market.
func MarketKey(marketID string) string {
	return "market:" + marketID
}

// ParticipationKey guards settlement of one user's participation.
func ParticipationKey(marketID, user string) string {
	return "participation:" + marketID + ":" + user
}
