// Package capacity bounds the number of live entries a cache may hold.
//
// A Guard hands out one slot per storage key. Reserving a key that already
// holds a slot is a no-op that reports Fresh=false, so overwrites never
// consume capacity twice. Use Local for a single process, or Redis when
// several engine instances share one backend and must share one limit.
package capacity

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded is returned by TryReserve when every slot is taken.
	ErrCapacityExceeded = errors.New("capcache: capacity exceeded")
	// ErrNotReserved is returned by Release for a slot that is not held,
	// including a second release of the same reservation.
	ErrNotReserved = errors.New("capcache: reservation not held")
	// ErrInvalidMax is returned by constructors for max < 1.
	ErrInvalidMax = errors.New("capcache: max entries must be at least 1")
)

// FullError is the concrete capacity rejection.
type FullError struct {
	Max int64
}

func (e *FullError) Error() string {
	return fmt.Sprintf("Cache is full! Max size is %d", e.Max)
}

func (e *FullError) Unwrap() error { return ErrCapacityExceeded }

// Reservation is a slot held for Key. Fresh is false when the key already
// held its slot before the call (an overwrite), in which case the caller
// must not release it on rollback.
type Reservation struct {
	Key   string
	Fresh bool
}

// Guard tracks live-entry slots against a fixed maximum.
// Implementations must be safe for unbounded concurrent callers and must
// never let the count exceed Max.
type Guard interface {
	// TryReserve takes a slot for key, or reports that key already holds one.
	// It fails with a *FullError and no mutation when no slot is free.
	TryReserve(ctx context.Context, key string) (Reservation, error)
	// Release frees the slot held by r.Key. ErrNotReserved if none is held.
	Release(ctx context.Context, r Reservation) error
	// Count is an advisory snapshot; never use it for enforcement.
	Count(ctx context.Context) (int64, error)
	// Max is the configured ceiling.
	Max() int64
	// Close releases resources (no-op ok).
	Close(ctx context.Context) error
}
