package capcache

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/capcache/backend"
	"github.com/unkn0wn-root/capcache/capacity"
)

// Options configure an Engine.
// Only Backend and Guard are required; others have sensible defaults.
type Options struct {
	// Required
	Backend backend.Backend
	Guard   capacity.Guard

	Prefix          string        // namespace prepended to every id; fixed for the engine's life
	DefaultTTL      time.Duration // used when a request carries none; 0 => 300s
	MaxTTL          time.Duration // request TTLs are clamped to it; 0 => unbounded
	ReapInterval    time.Duration // 0 => 1s; negative disables the background reaper
	ReapBatch       int           // keys pulled per cycle; 0 => 1000
	ReapConcurrency int           // parallel deletes per cycle; 0 => 8
	LockStripes     int           // per-key lock stripes; 0 => 256

	// KeepExpiryOnOverwrite keeps the live entry's expiry when its id is
	// stored again. Default false: every store starts a fresh TTL.
	KeepExpiryOnOverwrite bool

	Logger Logger           // if nil, NopLogger is used
	Hooks  Hooks            // if nil, NopHooks is used
	Tracer trace.Tracer     // if nil, the global otel tracer provider is used
	Now    func() time.Time // if nil, time.Now
}

// StoreRequest is one write. An empty ID asks the engine to mint one;
// a zero TTL selects DefaultTTL.
type StoreRequest struct {
	ID      string
	Payload []byte
	TTL     time.Duration
}

// Stored describes a successful write.
type Stored struct {
	ID        string
	Key       string
	ExpiresAt time.Time
}

// Stats is a point-in-time copy of engine counters.
type Stats struct {
	Stores       int64 // successful writes, overwrites included
	Overwrites   int64
	Rejections   int64 // capacity exceeded
	Rollbacks    int64 // fresh reservations released after a failed write
	Hits         int64
	Misses       int64 // absent or lazily expired
	Deletes      int64
	Reaped       int64
	ReapFailures int64
	Faults       int64
}

// ReapReport summarizes one reaper cycle.
type ReapReport struct {
	Scanned  int // expired keys returned by the backend
	Reaped   int // deleted and released
	Released int // slots freed for entries whose earlier release failed
	Skipped  int // refreshed or removed concurrently
	Failed   int // left for the next cycle
}
