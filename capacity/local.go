package capacity

import (
	"context"
	"sync"
)

// Local keeps slots in-process. The zero value is not usable; use NewLocal.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
	max  int64
}

var _ Guard = (*Local)(nil)

func NewLocal(max int64) (*Local, error) {
	if max < 1 {
		return nil, ErrInvalidMax
	}
	return &Local{held: make(map[string]struct{}), max: max}, nil
}

func (g *Local) TryReserve(_ context.Context, key string) (Reservation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[key]; ok {
		return Reservation{Key: key}, nil
	}
	if int64(len(g.held)) >= g.max {
		return Reservation{}, &FullError{Max: g.max}
	}
	g.held[key] = struct{}{}
	return Reservation{Key: key, Fresh: true}, nil
}

func (g *Local) Release(_ context.Context, r Reservation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[r.Key]; !ok {
		return ErrNotReserved
	}
	delete(g.held, r.Key)
	return nil
}

func (g *Local) Count(context.Context) (int64, error) {
	g.mu.Lock()
	n := int64(len(g.held))
	g.mu.Unlock()
	return n, nil
}

func (g *Local) Max() int64 { return g.max }

func (g *Local) Close(context.Context) error { return nil }
