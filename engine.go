package capcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"

	"github.com/unkn0wn-root/capcache/backend"
	"github.com/unkn0wn-root/capcache/capacity"
	"github.com/unkn0wn-root/capcache/ident"
	"github.com/unkn0wn-root/capcache/internal/shard"
)

type counters struct {
	stores       atomic.Int64
	overwrites   atomic.Int64
	rejections   atomic.Int64
	rollbacks    atomic.Int64
	hits         atomic.Int64
	misses       atomic.Int64
	deletes      atomic.Int64
	reaped       atomic.Int64
	reapFailures atomic.Int64
	faults       atomic.Int64
}

// Engine is safe for concurrent use.
type Engine struct {
	ids    *ident.Service
	be     backend.Backend
	guard  capacity.Guard
	log    Logger
	hooks  Hooks
	tracer trace.Tracer
	now    func() time.Time

	defaultTTL time.Duration
	maxTTL     time.Duration
	keepExpiry bool

	reapBatch       int
	reapConcurrency int

	// one stripe serializes every mutation of the keys hashing to it
	locks []sync.Mutex

	// owed holds keys whose entry is gone but whose slot release failed;
	// each Reap cycle retries them
	owedMu sync.Mutex
	owed   map[string]struct{}

	// held shared by every operation and exclusively by Close, so the
	// backend and guard are never closed under an in-flight call
	life   sync.RWMutex
	closed bool

	stats     counters
	closeOnce sync.Once
	closeErr  error
	reaper    *reaper
}

func New(opts Options) (*Engine, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("capcache: backend is required")
	}
	if opts.Guard == nil {
		return nil, fmt.Errorf("capcache: capacity guard is required")
	}
	if opts.DefaultTTL < 0 || opts.MaxTTL < 0 {
		return nil, fmt.Errorf("%w: negative default or max ttl", ErrInvalidTTL)
	}

	e := &Engine{
		ids:        ident.New(opts.Prefix),
		be:         opts.Backend,
		guard:      opts.Guard,
		maxTTL:     opts.MaxTTL,
		keepExpiry: opts.KeepExpiryOnOverwrite,
		owed:       make(map[string]struct{}),
	}

	// defaults
	e.log = coalesce[Logger](opts.Logger, NopLogger{})
	e.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	e.tracer = coalesce[trace.Tracer](opts.Tracer, otel.Tracer(tracerName))
	e.defaultTTL = coalesce[time.Duration](opts.DefaultTTL, defaultTTL)
	e.reapBatch = coalesce[int](opts.ReapBatch, defaultReapBatch)
	e.reapConcurrency = coalesce[int](opts.ReapConcurrency, defaultReapConcurrency)
	stripes := opts.LockStripes
	if stripes <= 0 {
		stripes = defaultLockStripes
	}
	e.locks = make([]sync.Mutex, stripes)
	e.now = opts.Now
	if e.now == nil {
		e.now = time.Now
	}
	if e.maxTTL > 0 && e.defaultTTL > e.maxTTL {
		e.defaultTTL = e.maxTTL
	}

	interval := coalesce[time.Duration](opts.ReapInterval, defaultReapInterval)
	if interval > 0 {
		e.reaper = startReaper(e, interval)
	}
	return e, nil
}

// Prefix is the namespace prepended to every id.
func (e *Engine) Prefix() string { return e.ids.Prefix() }

// Max is the configured live-entry ceiling.
func (e *Engine) Max() int64 { return e.guard.Max() }

func (e *Engine) lockFor(key string) *sync.Mutex {
	return &e.locks[shard.Index(key, len(e.locks))]
}

// enter registers an in-flight operation; pair with e.life.RUnlock.
func (e *Engine) enter() error {
	e.life.RLock()
	if e.closed {
		e.life.RUnlock()
		return ErrClosed
	}
	return nil
}

func (e *Engine) owe(key string) {
	e.owedMu.Lock()
	e.owed[key] = struct{}{}
	e.owedMu.Unlock()
}

func (e *Engine) settle(key string) {
	e.owedMu.Lock()
	delete(e.owed, key)
	e.owedMu.Unlock()
}

func (e *Engine) isOwed(key string) bool {
	e.owedMu.Lock()
	_, ok := e.owed[key]
	e.owedMu.Unlock()
	return ok
}

func (e *Engine) owedKeys() []string {
	e.owedMu.Lock()
	defer e.owedMu.Unlock()
	keys := make([]string, 0, len(e.owed))
	for k := range e.owed {
		keys = append(keys, k)
	}
	return keys
}

func (e *Engine) ttlFor(requested time.Duration) (time.Duration, error) {
	if requested < 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidTTL, requested)
	}
	ttl := coalesce[time.Duration](requested, e.defaultTTL)
	if e.maxTTL > 0 && ttl > e.maxTTL {
		ttl = e.maxTTL
	}
	return ttl, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Store writes req.Payload under req.ID (minted when empty). A first write
// for an id takes a capacity slot before touching the backend; an
// overwrite reuses the slot the id already holds.
func (e *Engine) Store(ctx context.Context, req StoreRequest) (st Stored, err error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Store", trace.WithAttributes(attribute.Int("payloadBytes", len(req.Payload))))
	defer func() { endSpan(span, err) }()

	if err := e.enter(); err != nil {
		return Stored{}, err
	}
	defer e.life.RUnlock()
	id, err := e.ids.Resolve(req.ID)
	if err != nil {
		return Stored{}, err
	}
	ttl, err := e.ttlFor(req.TTL)
	if err != nil {
		return Stored{}, err
	}
	key := e.ids.DeriveKey(id)
	span.SetAttributes(attribute.String("key", key))

	mu := e.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	res, err := e.guard.TryReserve(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCapacityExceeded) {
			e.stats.rejections.Inc()
			e.hooks.CapacityRejected(key, e.guard.Max())
			e.log.Debug("store rejected: capacity exceeded", Fields{"key": key, "max": e.guard.Max()})
			return Stored{}, err
		}
		return Stored{}, &StorageError{Op: "reserve", Key: key, Err: err}
	}

	now := e.now()
	expiresAt := now.Add(ttl)
	if !res.Fresh && e.keepExpiry {
		cur, ok, gerr := e.be.Get(ctx, key)
		if gerr == nil && ok && !cur.Expired(now) {
			expiresAt = cur.ExpiresAt
		}
	}

	entry := backend.Entry{Payload: req.Payload, CreatedAt: now, ExpiresAt: expiresAt}
	if perr := e.be.Put(ctx, key, entry); perr != nil {
		e.rollback(ctx, res)
		if errors.Is(perr, backend.ErrCeiling) {
			return Stored{}, e.fault(key, perr)
		}
		e.log.Warn("store failed", keyFields(key, perr))
		return Stored{}, &StorageError{Op: "put", Key: key, Err: perr}
	}

	// an overwrite of an owed key hands the held slot to the new entry
	e.settle(key)
	e.stats.stores.Inc()
	if !res.Fresh {
		e.stats.overwrites.Inc()
	}
	return Stored{ID: id, Key: key, ExpiresAt: expiresAt}, nil
}

// rollback releases a slot taken for a write that never landed.
// Must be called with the key's stripe held.
func (e *Engine) rollback(ctx context.Context, res capacity.Reservation) {
	if !res.Fresh {
		return
	}
	err := e.guard.Release(ctx, res)
	if err != nil && !errors.Is(err, capacity.ErrNotReserved) {
		e.owe(res.Key)
		e.log.Error("rollback release failed; retrying on next reap", keyFields(res.Key, err))
	}
	e.stats.rollbacks.Inc()
	e.hooks.StoreRolledBack(res.Key, err)
}

func (e *Engine) fault(key string, err error) error {
	e.stats.faults.Inc()
	e.hooks.InternalFault(key, err)
	e.log.Error("guard and backend disagree", keyFields(key, err))
	return &InternalFaultError{Key: key, Err: err}
}

// Lookup returns the payload stored under id. The id is not validated: a
// malformed id simply misses. Entries past their expiry miss even before
// the reaper removes them.
func (e *Engine) Lookup(ctx context.Context, id string) (payload []byte, err error) {
	key := e.ids.DeriveKey(id)
	ctx, span := e.tracer.Start(ctx, "Engine.Lookup", trace.WithAttributes(attribute.String("key", key)))
	defer func() { endSpan(span, err) }()

	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.life.RUnlock()
	ent, ok, err := e.be.Get(ctx, key)
	if err != nil {
		return nil, &StorageError{Op: "get", Key: key, Err: err}
	}
	if !ok || ent.Expired(e.now()) {
		e.stats.misses.Inc()
		return nil, &NotFoundError{Key: key}
	}
	e.stats.hits.Inc()
	return ent.Payload, nil
}

// Delete evicts id ahead of its expiry and frees its slot. Deleting an
// absent id returns *NotFoundError and changes nothing.
func (e *Engine) Delete(ctx context.Context, id string) (err error) {
	key := e.ids.DeriveKey(id)
	ctx, span := e.tracer.Start(ctx, "Engine.Delete", trace.WithAttributes(attribute.String("key", key)))
	defer func() { endSpan(span, err) }()

	if err := e.enter(); err != nil {
		return err
	}
	defer e.life.RUnlock()

	mu := e.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	if derr := e.be.Delete(ctx, key); derr != nil {
		if errors.Is(derr, backend.ErrNotFound) {
			return &NotFoundError{Key: key}
		}
		return &StorageError{Op: "delete", Key: key, Err: derr}
	}
	if rerr := e.release(ctx, key); rerr != nil {
		return rerr
	}
	e.stats.deletes.Inc()
	return nil
}

// release frees key's slot after its entry was physically removed.
// Must be called with the key's stripe held.
func (e *Engine) release(ctx context.Context, key string) error {
	err := e.guard.Release(ctx, capacity.Reservation{Key: key})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, capacity.ErrNotReserved):
		return e.fault(key, err)
	default:
		e.owe(key)
		e.log.Error("release failed; retrying on next reap", keyFields(key, err))
		return &StorageError{Op: "release", Key: key, Err: err}
	}
}

// Count is the number of held slots (live plus not yet reaped entries).
func (e *Engine) Count(ctx context.Context) (int64, error) {
	if err := e.enter(); err != nil {
		return 0, err
	}
	defer e.life.RUnlock()
	n, err := e.guard.Count(ctx)
	if err != nil {
		return 0, &StorageError{Op: "count", Err: err}
	}
	return n, nil
}

// CountLive asks the backend how many entries are not yet expired.
func (e *Engine) CountLive(ctx context.Context) (int64, error) {
	if err := e.enter(); err != nil {
		return 0, err
	}
	defer e.life.RUnlock()
	n, err := e.be.CountLive(ctx, e.now())
	if err != nil {
		return 0, &StorageError{Op: "count", Err: err}
	}
	return n, nil
}

func (e *Engine) Stats() Stats {
	return Stats{
		Stores:       e.stats.stores.Load(),
		Overwrites:   e.stats.overwrites.Load(),
		Rejections:   e.stats.rejections.Load(),
		Rollbacks:    e.stats.rollbacks.Load(),
		Hits:         e.stats.hits.Load(),
		Misses:       e.stats.misses.Load(),
		Deletes:      e.stats.deletes.Load(),
		Reaped:       e.stats.reaped.Load(),
		ReapFailures: e.stats.reapFailures.Load(),
		Faults:       e.stats.faults.Load(),
	}
}

// Close stops the reaper, waits for in-flight calls, then closes the
// backend and the guard. Safe to call multiple times; later calls return
// the first result.
func (e *Engine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		if e.reaper != nil {
			e.reaper.stop()
		}
		e.life.Lock()
		e.closed = true
		e.life.Unlock()
		e.closeErr = errors.Join(e.be.Close(ctx), e.guard.Close(ctx))
	})
	return e.closeErr
}
