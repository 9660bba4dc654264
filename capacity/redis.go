package capacity

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

var ErrNilClient = errors.New("capacity: nil redis client")

// reserve returns 1 for a fresh slot, 2 when the key already holds one and
// 0 when the set is full. Check and add run as one script, so concurrent
// reservations from any number of processes never overshoot ARGV[2].
var reserveScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then
  return 2
end
if redis.call('SCARD', KEYS[1]) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('SADD', KEYS[1], ARGV[1])
return 1
`)

// Redis shares one limit across every process pointed at the same
// namespace. Held slots live in a single redis SET.
type Redis struct {
	rdb         redis.UniversalClient
	ns          string
	max         int64
	closeClient bool
}

var _ Guard = (*Redis)(nil)

type RedisConfig struct {
	Client      redis.UniversalClient
	Namespace   string // should match the engine prefix
	Max         int64
	CloseClient bool // set true only if the guard exclusively owns the client
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Max < 1 {
		return nil, ErrInvalidMax
	}
	return &Redis{rdb: cfg.Client, ns: cfg.Namespace, max: cfg.Max, closeClient: cfg.CloseClient}, nil
}

func (g *Redis) setKey() string { return g.ns + "capacity:held" }

func (g *Redis) TryReserve(ctx context.Context, key string) (Reservation, error) {
	n, err := reserveScript.Run(ctx, g.rdb, []string{g.setKey()}, key, g.max).Int64()
	if err != nil {
		return Reservation{}, err
	}
	switch n {
	case 1:
		return Reservation{Key: key, Fresh: true}, nil
	case 2:
		return Reservation{Key: key}, nil
	default:
		return Reservation{}, &FullError{Max: g.max}
	}
}

func (g *Redis) Release(ctx context.Context, r Reservation) error {
	n, err := g.rdb.SRem(ctx, g.setKey(), r.Key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotReserved
	}
	return nil
}

func (g *Redis) Count(ctx context.Context) (int64, error) {
	return g.rdb.SCard(ctx, g.setKey()).Result()
}

func (g *Redis) Max() int64 { return g.max }

// Close releases the client only when the guard owns it. Repeated calls are no-ops.
func (g *Redis) Close(context.Context) error {
	if g.closeClient {
		if err := g.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			return err
		}
	}
	return nil
}
