package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestEntryRoundTrip(t *testing.T) {
	cases := []struct {
		created, expires int64
		payload          []byte
	}{
		{0, 0, nil},
		{1_700_000_000_000_000_000, 1_700_000_300_000_000_000, []byte("hello")},
		{math.MinInt64, math.MaxInt64, []byte{0, 1, 2, 3, 4}},
	}
	for _, tc := range cases {
		enc := EncodeEntry(tc.created, tc.expires, tc.payload)
		c, e, p, err := DecodeEntry(enc)
		if err != nil {
			t.Fatalf("DecodeEntry: %v", err)
		}
		if c != tc.created || e != tc.expires {
			t.Fatalf("times: got %d/%d want %d/%d", c, e, tc.created, tc.expires)
		}
		if !bytes.Equal(p, tc.payload) {
			t.Fatalf("payload: got %x want %x", p, tc.payload)
		}
	}
}

func TestEntryCorruption(t *testing.T) {
	enc := EncodeEntry(1, 2, []byte("abc"))

	mutate := func(f func(b []byte) []byte) []byte {
		return f(append([]byte(nil), enc...))
	}
	bad := map[string][]byte{
		"magic":     mutate(func(b []byte) []byte { b[0] = 'X'; return b }),
		"version":   mutate(func(b []byte) []byte { b[4] = version + 1; return b }),
		"vlen":      mutate(func(b []byte) []byte { binary.BigEndian.PutUint32(b[21:25], 4); return b }),
		"trailing":  mutate(func(b []byte) []byte { return append(b, 0xDE, 0xAD) }),
		"truncated": mutate(func(b []byte) []byte { return b[:len(b)-1] }),
		"short":     []byte("CAPE"),
	}
	for name, b := range bad {
		if _, _, _, err := DecodeEntry(b); err != ErrCorrupt {
			t.Fatalf("%s: want ErrCorrupt, got %v", name, err)
		}
	}
}
