package capcache

import "time"

const (
	defaultTTL             = 300 * time.Second
	defaultReapInterval    = time.Second
	defaultReapBatch       = 1000
	defaultReapConcurrency = 8
	defaultLockStripes     = 256
	tracerName             = "github.com/unkn0wn-root/capcache"
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
