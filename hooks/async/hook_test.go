package asynchook

import (
	"sync"
	"testing"

	"github.com/unkn0wn-root/capcache"
)

type countingHooks struct {
	capcache.NopHooks
	mu       sync.Mutex
	rejected int
	block    chan struct{}
}

func (c *countingHooks) CapacityRejected(string, int64) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.rejected++
	c.mu.Unlock()
}

func TestDeliversThenCloses(t *testing.T) {
	inner := &countingHooks{}
	h := New(inner, 2, 16)
	for i := 0; i < 10; i++ {
		h.CapacityRejected("k", 1)
	}
	h.Close()
	if inner.rejected != 10 {
		t.Fatalf("delivered %d, want 10", inner.rejected)
	}

	h.CapacityRejected("k", 1) // after Close: dropped, no panic
	if h.Dropped() != 1 {
		t.Fatalf("dropped = %d", h.Dropped())
	}
	h.Close()
}

func TestDropsWhenFull(t *testing.T) {
	inner := &countingHooks{block: make(chan struct{})}
	h := New(inner, 1, 1)

	// the worker blocks on the first event; the queue holds one more
	for i := 0; i < 10; i++ {
		h.CapacityRejected("k", 1)
	}
	close(inner.block)
	h.Close()

	if got := uint64(inner.rejected) + h.Dropped(); got != 10 {
		t.Fatalf("delivered+dropped = %d, want 10", got)
	}
	if h.Dropped() == 0 {
		t.Fatalf("expected drops with a blocked worker")
	}
}
