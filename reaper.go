package capcache

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/capcache/backend"
	"github.com/unkn0wn-root/capcache/capacity"
)

type reaper struct {
	ticker *time.Ticker
	stopCh chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startReaper(e *Engine, interval time.Duration) *reaper {
	ctx, cancel := context.WithCancel(context.Background())
	r := &reaper{
		ticker: time.NewTicker(interval),
		stopCh: make(chan struct{}),
		cancel: cancel,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.ticker.C:
				rep, err := e.Reap(ctx)
				if err != nil {
					e.log.Warn("reap cycle failed", Fields{"err": err})
					continue
				}
				if rep.Reaped > 0 || rep.Failed > 0 {
					e.log.Debug("reap cycle", Fields{"scanned": rep.Scanned, "reaped": rep.Reaped, "skipped": rep.Skipped, "failed": rep.Failed})
				}
			case <-r.stopCh:
				return
			}
		}
	}()
	return r
}

func (r *reaper) stop() {
	close(r.stopCh)
	r.cancel() // abort an in-flight cycle
	r.ticker.Stop()
	r.wg.Wait()
}

type reapOutcome int

const (
	reapDone reapOutcome = iota
	reapSkipped
	reapFailed
)

// Reap runs one expiry cycle. It first retries slot releases that failed
// earlier, then pulls up to ReapBatch expired keys from the backend and,
// for each, deletes the entry and releases its slot. A failure on one key
// never aborts the cycle; the key is retried next cycle.
func (e *Engine) Reap(ctx context.Context) (rep ReapReport, err error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Reap")
	defer func() {
		span.SetAttributes(attribute.Int("reaped", rep.Reaped), attribute.Int("failed", rep.Failed))
		endSpan(span, err)
	}()

	if err := e.enter(); err != nil {
		return ReapReport{}, err
	}
	defer e.life.RUnlock()

	var owedFailed int
	for _, key := range e.owedKeys() {
		switch e.retryOwed(ctx, key) {
		case reapDone:
			rep.Released++
		case reapFailed:
			owedFailed++
		}
	}

	now := e.now()
	keys, err := e.be.Expired(ctx, now, e.reapBatch)
	if err != nil {
		return ReapReport{Released: rep.Released, Failed: owedFailed}, &StorageError{Op: "expired", Err: err}
	}
	rep.Scanned = len(keys)

	var reaped, skipped, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(e.reapConcurrency)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			switch e.reapOne(ctx, key, now) {
			case reapDone:
				reaped.Inc()
			case reapSkipped:
				skipped.Inc()
			case reapFailed:
				failed.Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	rep.Reaped = int(reaped.Load())
	rep.Skipped = int(skipped.Load())
	rep.Failed = int(failed.Load()) + owedFailed
	return rep, nil
}

// retryOwed frees the slot of a key whose entry is gone but whose earlier
// release failed.
func (e *Engine) retryOwed(ctx context.Context, key string) reapOutcome {
	if ctx.Err() != nil {
		return reapFailed
	}
	mu := e.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	if !e.isOwed(key) {
		return reapSkipped
	}
	_, ok, err := e.be.Get(ctx, key)
	if err != nil {
		e.reapFailure(key, err)
		return reapFailed
	}
	if ok {
		// stored again (possibly by another instance): the slot is in use
		e.settle(key)
		return reapSkipped
	}
	err = e.guard.Release(ctx, capacity.Reservation{Key: key})
	if err != nil && !errors.Is(err, capacity.ErrNotReserved) {
		e.reapFailure(key, err)
		return reapFailed
	}
	e.settle(key)
	return reapDone
}

func (e *Engine) reapOne(ctx context.Context, key string, now time.Time) reapOutcome {
	if ctx.Err() != nil {
		return reapFailed
	}
	mu := e.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	// re-check under the lock: the key may have been stored again since
	// the backend listed it
	ent, ok, err := e.be.Get(ctx, key)
	if err != nil {
		e.reapFailure(key, err)
		return reapFailed
	}
	if ok && !ent.Expired(now) {
		return reapSkipped
	}

	if err := e.be.Delete(ctx, key); err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return reapSkipped // removed by a concurrent Delete
		}
		e.reapFailure(key, err)
		return reapFailed
	}
	if err := e.release(ctx, key); err != nil {
		e.reapFailure(key, err)
		return reapFailed
	}
	e.stats.reaped.Inc()
	trace.SpanFromContext(ctx).AddEvent("reaped", trace.WithAttributes(attribute.String("key", key)))
	return reapDone
}

func (e *Engine) reapFailure(key string, err error) {
	e.stats.reapFailures.Inc()
	e.hooks.ReapFailed(key, err)
	e.log.Warn("reap failed; retrying next cycle", keyFields(key, err))
}
