// Package bigcache stores encoded entries in an allegro/bigcache.
//
// BigCache has one global LifeWindow instead of per-entry TTLs, so each
// value carries its own expiry via the entry codec. Keys that BigCache
// evicts on its own (LifeWindow passed, shard full) are remembered until
// the reaper deletes them, so their capacity slots are still returned.
package bigcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/capcache/backend"
	"github.com/unkn0wn-root/capcache/codec"
)

type Config struct {
	// LifeWindow bounds entry lifetimes: bigcache evicts anything older,
	// so Put rejects entries that would outlive it. Clamp the engine's
	// MaxTTL to it.
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	Shards             int
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
	Codec              codec.Codec[backend.Entry]
}

type Provider struct {
	c        *bc.BigCache
	codec    codec.Codec[backend.Entry]
	life     time.Duration
	vanished sync.Map // key -> struct{}; evicted by bigcache, not yet reaped
}

var _ backend.Backend = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if cfg.LifeWindow <= 0 {
		return nil, errors.New("bigcache: LifeWindow must be positive")
	}
	p := &Provider{codec: cfg.Codec, life: cfg.LifeWindow}
	if p.codec == nil {
		p.codec = codec.Wire{}
	}

	conf := bc.DefaultConfig(cfg.LifeWindow)
	conf.CleanWindow = cfg.CleanWindow
	if cfg.Shards > 0 {
		conf.Shards = cfg.Shards
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	conf.OnRemoveWithReason = p.onRemove

	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	p.c = c
	return p, nil
}

func (p *Provider) onRemove(key string, _ []byte, reason bc.RemoveReason) {
	if reason == bc.Deleted {
		return
	}
	p.vanished.Store(key, struct{}{})
}

func (p *Provider) Put(_ context.Context, key string, e backend.Entry) error {
	if lifetime := e.ExpiresAt.Sub(e.CreatedAt); lifetime > p.life {
		return fmt.Errorf("%w: lifetime %s exceeds LifeWindow %s", backend.ErrRejected, lifetime, p.life)
	}
	b, err := p.codec.Encode(e)
	if err != nil {
		return fmt.Errorf("bigcache: encode: %w", err)
	}
	if err := p.c.Set(key, b); err != nil {
		return err
	}
	p.vanished.Delete(key)
	return nil
}

func (p *Provider) Get(_ context.Context, key string) (backend.Entry, bool, error) {
	b, err := p.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return backend.Entry{}, false, nil
	}
	if err != nil {
		return backend.Entry{}, false, err
	}
	e, err := p.codec.Decode(b)
	if err != nil {
		// self-heal corrupt; the reaper still owes this key a release
		_ = p.c.Delete(key)
		p.vanished.Store(key, struct{}{})
		return backend.Entry{}, false, nil
	}
	return e, true, nil
}

func (p *Provider) Delete(_ context.Context, key string) error {
	err := p.c.Delete(key)
	_, wasVanished := p.vanished.LoadAndDelete(key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bc.ErrEntryNotFound):
		if wasVanished {
			return nil
		}
		return backend.ErrNotFound
	default:
		return err
	}
}

func (p *Provider) Expired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var out []string
	full := func() bool { return limit > 0 && len(out) >= limit }

	p.vanished.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return !full()
	})
	if full() {
		return out, nil
	}

	it := p.c.Iterator()
	for it.SetNext() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		info, err := it.Value()
		if err != nil {
			continue // removed mid-iteration
		}
		e, err := p.codec.Decode(info.Value())
		if err != nil || e.Expired(now) {
			out = append(out, info.Key())
			if full() {
				break
			}
		}
	}
	return out, nil
}

func (p *Provider) CountLive(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	it := p.c.Iterator()
	for it.SetNext() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		info, err := it.Value()
		if err != nil {
			continue
		}
		if e, err := p.codec.Decode(info.Value()); err == nil && !e.Expired(now) {
			n++
		}
	}
	return n, nil
}

func (p *Provider) Close(_ context.Context) error {
	return p.c.Close()
}
