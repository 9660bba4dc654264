// Package backendtest is a contract suite every backend.Backend must pass.
package backendtest

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/unkn0wn-root/capcache/backend"
)

// Factory returns a fresh, empty backend. Cleanup belongs to the factory.
type Factory func(t *testing.T) backend.Backend

// Run executes the whole contract against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newBackend(t)) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, newBackend(t)) })
	t.Run("Miss", func(t *testing.T) { testMiss(t, newBackend(t)) })
	t.Run("DeleteTwice", func(t *testing.T) { testDeleteTwice(t, newBackend(t)) })
	t.Run("ExpiredAndCount", func(t *testing.T) { testExpiredAndCount(t, newBackend(t)) })
	t.Run("ExpiredLimit", func(t *testing.T) { testExpiredLimit(t, newBackend(t)) })
	t.Run("NoAliasing", func(t *testing.T) { testNoAliasing(t, newBackend(t)) })
}

// Base is a wall-clock anchor rounded to the millisecond so every codec and
// store can represent it exactly.
func Base() time.Time {
	return time.Now().Truncate(time.Millisecond)
}

func put(t *testing.T, b backend.Backend, key string, payload []byte, exp time.Time) {
	t.Helper()
	e := backend.Entry{Payload: payload, CreatedAt: Base(), ExpiresAt: exp}
	if err := b.Put(context.Background(), key, e); err != nil {
		t.Fatalf("Put(%s): %v", key, err)
	}
}

func mustGet(t *testing.T, b backend.Backend, key string) backend.Entry {
	t.Helper()
	e, ok, err := b.Get(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("Get(%s): ok=%v err=%v", key, ok, err)
	}
	return e
}

func testRoundTrip(t *testing.T, b backend.Backend) {
	base := Base()
	want := backend.Entry{
		Payload:   []byte{0, 1, 2, 0xff, 'x'},
		CreatedAt: base,
		ExpiresAt: base.Add(time.Hour),
	}
	if err := b.Put(context.Background(), "rt", want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got := mustGet(t, b, "rt")
	if !bytes.Equal(got.Payload, want.Payload) {
		t.Fatalf("payload: got %x want %x", got.Payload, want.Payload)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Fatalf("times: got %v/%v want %v/%v", got.CreatedAt, got.ExpiresAt, want.CreatedAt, want.ExpiresAt)
	}
	if got.Expired(base) {
		t.Fatalf("entry reported expired before ExpiresAt")
	}
}

func testOverwrite(t *testing.T, b backend.Backend) {
	base := Base()
	put(t, b, "k", []byte("one"), base.Add(time.Hour))
	put(t, b, "k", []byte("two"), base.Add(2*time.Hour))
	got := mustGet(t, b, "k")
	if string(got.Payload) != "two" || !got.ExpiresAt.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("overwrite not applied: %q %v", got.Payload, got.ExpiresAt)
	}
	n, err := b.CountLive(context.Background(), base)
	if err != nil || n != 1 {
		t.Fatalf("CountLive after overwrite = %d, %v", n, err)
	}
}

func testMiss(t *testing.T, b backend.Backend) {
	_, ok, err := b.Get(context.Background(), "absent")
	if err != nil || ok {
		t.Fatalf("Get(absent): ok=%v err=%v", ok, err)
	}
}

func testDeleteTwice(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	put(t, b, "d", []byte("v"), Base().Add(time.Hour))
	if err := b.Delete(ctx, "d"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := b.Get(ctx, "d"); ok {
		t.Fatalf("entry still readable after Delete")
	}
	if err := b.Delete(ctx, "d"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("second Delete: want ErrNotFound, got %v", err)
	}
}

func testExpiredAndCount(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	base := Base()
	put(t, b, "short", []byte("a"), base.Add(time.Hour))
	put(t, b, "long", []byte("b"), base.Add(3*time.Hour))

	at := base.Add(2 * time.Hour)
	keys, err := b.Expired(ctx, at, 0)
	if err != nil {
		t.Fatalf("Expired: %v", err)
	}
	if len(keys) != 1 || keys[0] != "short" {
		t.Fatalf("Expired = %v, want [short]", keys)
	}
	n, err := b.CountLive(ctx, at)
	if err != nil || n != 1 {
		t.Fatalf("CountLive = %d, %v; want 1", n, err)
	}

	// the store keeps expired entries until told otherwise
	if e := mustGet(t, b, "short"); !e.Expired(at) {
		t.Fatalf("short should be expired at %v", at)
	}
	if err := b.Delete(ctx, "short"); err != nil {
		t.Fatalf("Delete(short): %v", err)
	}
	keys, _ = b.Expired(ctx, at, 0)
	if len(keys) != 0 {
		t.Fatalf("Expired after delete = %v", keys)
	}
}

func testExpiredLimit(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	base := Base()
	for _, k := range []string{"e1", "e2", "e3", "e4"} {
		put(t, b, k, []byte(k), base.Add(time.Hour))
	}
	at := base.Add(2 * time.Hour)
	keys, err := b.Expired(ctx, at, 2)
	if err != nil || len(keys) != 2 {
		t.Fatalf("Expired(limit=2) = %v, %v", keys, err)
	}
	all, _ := b.Expired(ctx, at, 0)
	sort.Strings(all)
	if len(all) != 4 || all[0] != "e1" || all[3] != "e4" {
		t.Fatalf("Expired(no limit) = %v", all)
	}
}

func testNoAliasing(t *testing.T, b backend.Backend) {
	in := []byte("original")
	put(t, b, "alias", in, Base().Add(time.Hour))
	in[0] = 'X'
	if got := mustGet(t, b, "alias"); string(got.Payload) != "original" {
		t.Fatalf("backend aliased caller memory: %q", got.Payload)
	}
}
