// Package backend defines the storage abstraction used by capcache.
//
// A Backend owns the physical representation of entries. It never decides
// capacity: the engine reserves a slot before every first insert and
// releases it after every successful delete. Implementations must be safe
// for concurrent use and must return exactly the payload bytes that were
// stored (no re-encoding visible to callers).
//
// Expiry is reported, not enforced, on read: Get may return an entry whose
// ExpiresAt has passed, and callers apply lazy expiry on top. Physical
// removal of expired entries is driven by the reaper through Expired and
// Delete, so that every removal is paired with exactly one slot release.
package backend

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Delete when no entry exists for the key.
	ErrNotFound = errors.New("backend: not found")
	// ErrCeiling is returned by Put when a bounded store is already at its
	// hard ceiling. The engine's capacity guard should make this unreachable.
	ErrCeiling = errors.New("backend: hard ceiling reached")
	// ErrRejected is returned by Put when the store refused the write
	// (admission policy, memory pressure).
	ErrRejected = errors.New("backend: write rejected")
)

// Entry is one stored payload with its lifetime.
type Entry struct {
	Payload   []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its lifetime at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Backend is a key-addressed entry store.
type Backend interface {
	// Put stores e under key, replacing any existing entry.
	Put(ctx context.Context, key string, e Entry) error

	// Get returns (entry, true, nil) on hit and (Entry{}, false, nil) on miss.
	// IO/remote errors return (Entry{}, false, err).
	Get(ctx context.Context, key string) (Entry, bool, error)

	// Delete removes key. ErrNotFound when nothing was there.
	Delete(ctx context.Context, key string) error

	// Expired lists up to limit keys whose ExpiresAt is not after now.
	// limit <= 0 means no limit.
	Expired(ctx context.Context, now time.Time, limit int) ([]string, error)

	// CountLive is a best-effort count of entries not expired at now.
	CountLive(ctx context.Context, now time.Time) (int64, error)

	// Close releases resources.
	Close(ctx context.Context) error
}

// Clone copies b so a backend never aliases caller memory.
func Clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
