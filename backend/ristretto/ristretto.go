// Package ristretto stores entries in a dgraph-io/ristretto cache.
//
// Ristretto cannot enumerate its keys, so the adapter tracks each stored
// key with its expiry for the reaper. Ristretto may still drop a value
// under cost pressure; such a key reads as a miss until the reaper deletes
// it and frees its slot.
package ristretto

import (
	"context"
	"errors"
	"sync"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/capcache/backend"
)

const defaultGrace = 30 * time.Second

type Config struct {
	NumCounters int64
	MaxCost     int64 // entries cost 1 each, so this is an entry count
	BufferItems int64
	Metrics     bool
	// Grace is added to the native TTL so the reaper, not ristretto,
	// decides when an entry is gone. 0 => 30s.
	Grace time.Duration
}

type Provider struct {
	c       *rc.Cache
	tracked sync.Map // key -> time.Time (ExpiresAt)
	grace   time.Duration
}

var _ backend.Backend = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	// IgnoreInternalCost keeps the cost of an entry at 1; otherwise ristretto
	// adds its own per-item size and MaxCost stops being an entry count.
	c, err := rc.NewCache(&rc.Config{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxCost,
		BufferItems:        cfg.BufferItems,
		Metrics:            cfg.Metrics,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	grace := cfg.Grace
	if grace <= 0 {
		grace = defaultGrace
	}
	return &Provider{c: c, grace: grace}, nil
}

func (p *Provider) Put(_ context.Context, key string, e backend.Entry) error {
	e.Payload = backend.Clone(e.Payload)
	ttl := time.Until(e.ExpiresAt)
	if ttl < 0 {
		ttl = 0
	}
	if !p.c.SetWithTTL(key, e, 1, ttl+p.grace) {
		return backend.ErrRejected
	}
	// sets are buffered; wait so a Get right after Put sees the value
	p.c.Wait()
	p.tracked.Store(key, e.ExpiresAt)
	return nil
}

func (p *Provider) Get(_ context.Context, key string) (backend.Entry, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return backend.Entry{}, false, nil
	}
	e, ok := v.(backend.Entry)
	if !ok {
		// self-heal: drop unexpected entry shape, keep tracking for the reaper
		p.c.Del(key)
		return backend.Entry{}, false, nil
	}
	e.Payload = backend.Clone(e.Payload)
	return e, true, nil
}

func (p *Provider) Delete(_ context.Context, key string) error {
	_, had := p.tracked.LoadAndDelete(key)
	p.c.Del(key)
	if !had {
		return backend.ErrNotFound
	}
	return nil
}

func (p *Provider) Expired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var out []string
	p.tracked.Range(func(k, v any) bool {
		if ctx.Err() != nil {
			return false
		}
		if exp := v.(time.Time); !now.Before(exp) {
			out = append(out, k.(string))
		}
		return limit <= 0 || len(out) < limit
	})
	return out, ctx.Err()
}

func (p *Provider) CountLive(_ context.Context, now time.Time) (int64, error) {
	var n int64
	p.tracked.Range(func(_, v any) bool {
		if now.Before(v.(time.Time)) {
			n++
		}
		return true
	})
	return n, nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Metrics exposes ristretto's counters (nil unless Config.Metrics).
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
