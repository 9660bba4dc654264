// Package memory is a bounded in-process Backend: a map striped across
// shards, each guarded by its own RWMutex.
package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/unkn0wn-root/capcache/backend"
	"github.com/unkn0wn-root/capcache/internal/shard"
)

const defaultShards = 32

type Config struct {
	// Ceiling is the hard maximum number of stored entries; 0 = unbounded.
	// Set it to the engine's max entries: the capacity guard keeps the map
	// below it, so hitting it means the two disagree.
	Ceiling int64
	Shards  int // 0 => 32
}

type bucket struct {
	mu sync.RWMutex
	m  map[string]backend.Entry
}

type Memory struct {
	buckets []*bucket
	ceiling int64
	size    atomic.Int64
}

var _ backend.Backend = (*Memory)(nil)

func New(cfg Config) *Memory {
	n := cfg.Shards
	if n <= 0 {
		n = defaultShards
	}
	m := &Memory{buckets: make([]*bucket, n), ceiling: cfg.Ceiling}
	for i := range m.buckets {
		m.buckets[i] = &bucket{m: make(map[string]backend.Entry)}
	}
	return m
}

func (m *Memory) bucketFor(key string) *bucket {
	return m.buckets[shard.Index(key, len(m.buckets))]
}

func (m *Memory) Put(_ context.Context, key string, e backend.Entry) error {
	b := m.bucketFor(key)
	e.Payload = backend.Clone(e.Payload)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.m[key]; ok {
		b.m[key] = e
		return nil
	}
	if !m.grow() {
		return backend.ErrCeiling
	}
	b.m[key] = e
	return nil
}

// grow takes one unit of size unless that would pass the ceiling.
// Buckets lock independently, so the check has to be a CAS.
func (m *Memory) grow() bool {
	for {
		n := m.size.Load()
		if m.ceiling > 0 && n >= m.ceiling {
			return false
		}
		if m.size.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (m *Memory) Get(_ context.Context, key string) (backend.Entry, bool, error) {
	b := m.bucketFor(key)
	b.mu.RLock()
	e, ok := b.m[key]
	b.mu.RUnlock()
	if !ok {
		return backend.Entry{}, false, nil
	}
	e.Payload = backend.Clone(e.Payload)
	return e, true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.m[key]; !ok {
		return backend.ErrNotFound
	}
	delete(b.m, key)
	m.size.Dec()
	return nil
}

func (m *Memory) Expired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var out []string
	for _, b := range m.buckets {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		b.mu.RLock()
		for k, e := range b.m {
			if e.Expired(now) {
				out = append(out, k)
				if limit > 0 && len(out) >= limit {
					b.mu.RUnlock()
					return out, nil
				}
			}
		}
		b.mu.RUnlock()
	}
	return out, nil
}

func (m *Memory) CountLive(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for _, b := range m.buckets {
		b.mu.RLock()
		for _, e := range b.m {
			if !e.Expired(now) {
				n++
			}
		}
		b.mu.RUnlock()
	}
	return n, nil
}

// Len is the number of stored entries, expired or not.
func (m *Memory) Len() int64 { return m.size.Load() }

func (m *Memory) Close(context.Context) error { return nil }
