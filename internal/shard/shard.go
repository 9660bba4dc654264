// Package shard maps keys onto a fixed number of stripes.
package shard

import "hash/fnv"

// Index returns the stripe for key in [0, n). n must be positive.
func Index(key string, n int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum64() % uint64(n))
}
