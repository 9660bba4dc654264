package sloghook

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestSamplingAndRedaction(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil))
	h := New(l, Options{RejectEvery: 3})

	for i := 0; i < 6; i++ {
		h.CapacityRejected("secret-key", 10)
	}
	if n := strings.Count(buf.String(), "capcache.capacity_rejected"); n != 2 {
		t.Fatalf("sampled %d records, want 2", n)
	}
	if strings.Contains(buf.String(), "secret-key") {
		t.Fatalf("key not redacted: %s", buf.String())
	}

	buf.Reset()
	h.StoreRolledBack("k", errors.New("release failed"))
	if !strings.Contains(buf.String(), "capcache.rollback_failed") {
		t.Fatalf("rollback failure not logged: %s", buf.String())
	}
}

func TestCustomRedactor(t *testing.T) {
	var buf bytes.Buffer
	h := New(slog.New(slog.NewTextHandler(&buf, nil)), Options{Redact: func(string) string { return "X" }})
	h.InternalFault("k", errors.New("ceiling"))
	if !strings.Contains(buf.String(), "key=X") {
		t.Fatalf("custom redactor unused: %s", buf.String())
	}
}

func TestNilLogger(t *testing.T) {
	h := New(nil, Options{})
	h.ReapFailed("k", errors.New("x")) // must not panic
}
