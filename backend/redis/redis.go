// Package redis stores entries in redis so several engine instances can
// share one cache.
//
// Each value lives under its storage key with a native TTL of its lifetime
// plus Grace. A sorted set "<Namespace>expiry" scores every key by its
// expiry (unix millis) and is what the reaper scans; a key whose value
// redis already dropped stays in the index until the reaper deletes it.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/capcache/backend"
	"github.com/unkn0wn-root/capcache/codec"
)

const defaultGrace = 30 * time.Second

var ErrNilClient = errors.New("redis backend: nil client")

type Redis struct {
	rdb         goredis.UniversalClient
	index       string
	codec       codec.Codec[backend.Entry]
	grace       time.Duration
	closeClient bool
}

var _ backend.Backend = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	Namespace   string // prefix of the expiry index key; match the engine prefix
	Codec       codec.Codec[backend.Entry]
	Grace       time.Duration // 0 => 30s
	CloseClient bool          // set true only if this backend exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	r := &Redis{
		rdb:         cfg.Client,
		index:       cfg.Namespace + "expiry",
		codec:       cfg.Codec,
		grace:       cfg.Grace,
		closeClient: cfg.CloseClient,
	}
	if r.codec == nil {
		r.codec = codec.Wire{}
	}
	if r.grace <= 0 {
		r.grace = defaultGrace
	}
	return r, nil
}

func score(t time.Time) float64 { return float64(t.UnixMilli()) }

func (r *Redis) Put(ctx context.Context, key string, e backend.Entry) error {
	b, err := r.codec.Encode(e)
	if err != nil {
		return fmt.Errorf("redis backend: encode: %w", err)
	}
	ttl := time.Until(e.ExpiresAt)
	if ttl < 0 {
		ttl = 0
	}
	_, err = r.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, key, b, ttl+r.grace)
		p.ZAdd(ctx, r.index, goredis.Z{Score: score(e.ExpiresAt), Member: key})
		return nil
	})
	return err
}

func (r *Redis) Get(ctx context.Context, key string) (backend.Entry, bool, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return backend.Entry{}, false, nil // miss
	}
	if err != nil {
		return backend.Entry{}, false, err // transport/server error
	}
	e, err := r.codec.Decode(b)
	if err != nil {
		// self-heal: drop the value, leave the index entry for the reaper
		_ = r.rdb.Del(ctx, key).Err()
		return backend.Entry{}, false, nil
	}
	return e, true, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	var del, zrem *goredis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		del = p.Del(ctx, key)
		zrem = p.ZRem(ctx, r.index, key)
		return nil
	})
	if err != nil {
		return err
	}
	if del.Val() == 0 && zrem.Val() == 0 {
		return backend.ErrNotFound
	}
	return nil
}

func (r *Redis) Expired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	by := &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	return r.rdb.ZRangeByScore(ctx, r.index, by).Result()
}

func (r *Redis) CountLive(ctx context.Context, now time.Time) (int64, error) {
	return r.rdb.ZCount(ctx, r.index, "("+strconv.FormatInt(now.UnixMilli(), 10), "+inf").Result()
}

// Close releases the underlying client only when this backend owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (r *Redis) Close(context.Context) error {
	if r.closeClient {
		if err := r.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
