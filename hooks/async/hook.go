// usage:
//
//	raw := sloghook.New(slog.Default(), sloghook.Options{
//	    RejectEvery: 100, // capacity rejections can be frequent when full
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	eng, _ := capcache.New(capcache.Options{
//	    Backend: memory.New(memory.Config{Ceiling: 10_000}),
//	    Guard:   guard,
//	    Hooks:   hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/unkn0wn-root/capcache"
)

// Hooks moves hook delivery off the engine's key locks. Events that do not
// fit in the queue are dropped and counted.
type Hooks struct {
	inner   capcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards q against send-after-close
	closed  bool
	dropped atomic.Uint64
}

var _ capcache.Hooks = (*Hooks)(nil)

func New(inner capcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events fired after
// Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped is the number of events lost to a full queue or a closed sink.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Inc()
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Inc()
	}
}

func (h *Hooks) CapacityRejected(k string, max int64) {
	h.try(func() { h.inner.CapacityRejected(k, max) })
}
func (h *Hooks) StoreRolledBack(k string, err error) { h.try(func() { h.inner.StoreRolledBack(k, err) }) }
func (h *Hooks) InternalFault(k string, err error)   { h.try(func() { h.inner.InternalFault(k, err) }) }
func (h *Hooks) ReapFailed(k string, err error)      { h.try(func() { h.inner.ReapFailed(k, err) }) }
