// Package breaker wraps a backend in a circuit breaker so a failing remote
// store fails fast instead of stalling every request.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/unkn0wn-root/capcache/backend"
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("backend breaker: open")

type Breaker struct {
	inner backend.Backend
	cb    *gobreaker.CircuitBreaker
}

var _ backend.Backend = (*Breaker)(nil)

type Config struct {
	Name                string
	MaxRequests         uint32        // half-open probes; 0 => 3
	Interval            time.Duration // closed-state counter reset; 0 => 60s
	Timeout             time.Duration // open -> half-open; 0 => 30s
	ConsecutiveFailures uint32        // trip threshold; 0 => 5
	OnStateChange       func(name string, from, to string)
}

// DefaultSettings mirrors the breaker settings used for remote cache tiers.
func DefaultSettings(cfg Config) gobreaker.Settings {
	if cfg.Name == "" {
		cfg.Name = "backend"
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		// misses and ceiling rejections are answers, not outages
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, backend.ErrNotFound) ||
				errors.Is(err, backend.ErrCeiling) ||
				errors.Is(err, backend.ErrRejected)
		},
	}
	if cfg.OnStateChange != nil {
		fn := cfg.OnStateChange
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			fn(name, from.String(), to.String())
		}
	}
	return st
}

func New(inner backend.Backend, cfg Config) *Breaker {
	return &Breaker{inner: inner, cb: gobreaker.NewCircuitBreaker(DefaultSettings(cfg))}
}

// State reports the breaker state ("closed", "half-open", "open").
func (b *Breaker) State() string { return b.cb.State().String() }

func (b *Breaker) do(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrOpen, err)
	}
	return err
}

func (b *Breaker) Put(ctx context.Context, key string, e backend.Entry) error {
	return b.do(func() error { return b.inner.Put(ctx, key, e) })
}

func (b *Breaker) Get(ctx context.Context, key string) (e backend.Entry, ok bool, err error) {
	err = b.do(func() error {
		var ierr error
		e, ok, ierr = b.inner.Get(ctx, key)
		return ierr
	})
	if err != nil {
		return backend.Entry{}, false, err
	}
	return e, ok, nil
}

func (b *Breaker) Delete(ctx context.Context, key string) error {
	return b.do(func() error { return b.inner.Delete(ctx, key) })
}

func (b *Breaker) Expired(ctx context.Context, now time.Time, limit int) (keys []string, err error) {
	err = b.do(func() error {
		var ierr error
		keys, ierr = b.inner.Expired(ctx, now, limit)
		return ierr
	})
	return keys, err
}

func (b *Breaker) CountLive(ctx context.Context, now time.Time) (n int64, err error) {
	err = b.do(func() error {
		var ierr error
		n, ierr = b.inner.CountLive(ctx, now)
		return ierr
	})
	return n, err
}

// Close bypasses the breaker.
func (b *Breaker) Close(ctx context.Context) error { return b.inner.Close(ctx) }
