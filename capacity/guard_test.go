package capacity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type guardFactory func(t *testing.T, max int64) Guard

func localGuard(t *testing.T, max int64) Guard {
	t.Helper()
	g, err := NewLocal(max)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return g
}

func redisGuard(t *testing.T, max int64) Guard {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	g, err := NewRedis(RedisConfig{Client: rdb, Namespace: "t:", Max: max, CloseClient: true})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = g.Close(context.Background()) })
	return g
}

func eachGuard(t *testing.T, fn func(t *testing.T, newGuard guardFactory)) {
	for name, f := range map[string]guardFactory{"local": localGuard, "redis": redisGuard} {
		t.Run(name, func(t *testing.T) { fn(t, f) })
	}
}

func count(t *testing.T, g Guard) int64 {
	t.Helper()
	n, err := g.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

func TestReserveUntilFull(t *testing.T) {
	eachGuard(t, func(t *testing.T, newGuard guardFactory) {
		ctx := context.Background()
		g := newGuard(t, 2)

		for _, k := range []string{"a", "b"} {
			r, err := g.TryReserve(ctx, k)
			if err != nil || !r.Fresh || r.Key != k {
				t.Fatalf("TryReserve(%s) = %+v, %v", k, r, err)
			}
		}
		_, err := g.TryReserve(ctx, "c")
		if !errors.Is(err, ErrCapacityExceeded) {
			t.Fatalf("want ErrCapacityExceeded, got %v", err)
		}
		var fe *FullError
		if !errors.As(err, &fe) || fe.Max != 2 || fe.Error() != "Cache is full! Max size is 2" {
			t.Fatalf("unexpected full error: %v", err)
		}
		if n := count(t, g); n != 2 {
			t.Fatalf("count after rejection = %d, want 2", n)
		}
	})
}

func TestReserveExistingKeyIsNotFresh(t *testing.T) {
	eachGuard(t, func(t *testing.T, newGuard guardFactory) {
		ctx := context.Background()
		g := newGuard(t, 1)

		if _, err := g.TryReserve(ctx, "a"); err != nil {
			t.Fatal(err)
		}
		// full, but "a" already holds its slot
		r, err := g.TryReserve(ctx, "a")
		if err != nil || r.Fresh {
			t.Fatalf("re-reserve = %+v, %v", r, err)
		}
		if n := count(t, g); n != 1 {
			t.Fatalf("count = %d, want 1", n)
		}
	})
}

func TestDoubleReleaseRejected(t *testing.T) {
	eachGuard(t, func(t *testing.T, newGuard guardFactory) {
		ctx := context.Background()
		g := newGuard(t, 3)

		ra, _ := g.TryReserve(ctx, "a")
		if _, err := g.TryReserve(ctx, "b"); err != nil {
			t.Fatal(err)
		}
		if err := g.Release(ctx, ra); err != nil {
			t.Fatalf("first release: %v", err)
		}
		if err := g.Release(ctx, ra); !errors.Is(err, ErrNotReserved) {
			t.Fatalf("second release: want ErrNotReserved, got %v", err)
		}
		if n := count(t, g); n != 1 {
			t.Fatalf("count = %d, want 1", n)
		}
	})
}

func TestConcurrentReservationsNeverOvershoot(t *testing.T) {
	eachGuard(t, func(t *testing.T, newGuard guardFactory) {
		const max, writers = 16, 200
		ctx := context.Background()
		g := newGuard(t, max)

		var accepted atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := g.TryReserve(ctx, fmt.Sprintf("k%d", i))
				switch {
				case err == nil:
					accepted.Add(1)
				case !errors.Is(err, ErrCapacityExceeded):
					t.Errorf("TryReserve: %v", err)
				}
			}(i)
		}
		wg.Wait()

		if accepted.Load() != max {
			t.Fatalf("accepted %d reservations, want %d", accepted.Load(), max)
		}
		if n := count(t, g); n != max {
			t.Fatalf("count = %d, want %d", n, max)
		}
	})
}

func TestConstructorsRejectBadMax(t *testing.T) {
	if _, err := NewLocal(0); !errors.Is(err, ErrInvalidMax) {
		t.Fatalf("NewLocal(0): %v", err)
	}
	if _, err := NewRedis(RedisConfig{Max: 1}); !errors.Is(err, ErrNilClient) {
		t.Fatalf("NewRedis(nil client): %v", err)
	}
}
