package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/unkn0wn-root/capcache/backend"
)

func sampleEntry() backend.Entry {
	created := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	return backend.Entry{
		Payload:   []byte{0, 1, 2, 0xfe, 0xff},
		CreatedAt: created,
		ExpiresAt: created.Add(5 * time.Minute),
	}
}

func TestEveryNamedCodecPreservesEntries(t *testing.T) {
	want := sampleEntry()
	for _, name := range []string{"", "wire", "json", "msgpack", "cbor", "proto"} {
		c, err := ByName(name)
		if err != nil {
			t.Fatalf("ByName(%q): %v", name, err)
		}
		b, err := c.Encode(want)
		if err != nil {
			t.Fatalf("%s: Encode: %v", name, err)
		}
		got, err := c.Decode(b)
		if err != nil {
			t.Fatalf("%s: Decode: %v", name, err)
		}
		if !bytes.Equal(got.Payload, want.Payload) ||
			!got.CreatedAt.Equal(want.CreatedAt) ||
			!got.ExpiresAt.Equal(want.ExpiresAt) {
			t.Fatalf("%s: got %+v want %+v", name, got, want)
		}
	}
}

func TestByNameUnknown(t *testing.T) {
	if _, err := ByName("xml"); err == nil || !strings.Contains(err.Error(), "xml") {
		t.Fatalf("want unknown codec error, got %v", err)
	}
}

func TestWireDecodeDoesNotAliasInput(t *testing.T) {
	b, _ := Wire{}.Encode(sampleEntry())
	e, err := Wire{}.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	b[len(b)-1] = 0
	if e.Payload[len(e.Payload)-1] != 0xff {
		t.Fatalf("decoded payload aliases the encoded buffer")
	}
}

func TestProtoSkipsUnknownFields(t *testing.T) {
	b, _ := Proto{}.Encode(sampleEntry())
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))
	got, err := Proto{}.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.ExpiresAt.Equal(sampleEntry().ExpiresAt) {
		t.Fatalf("ExpiresAt lost: %v", got.ExpiresAt)
	}
	if _, err := (Proto{}).Decode([]byte{0x0a, 0x05, 'x'}); err == nil {
		t.Fatalf("want error on truncated bytes field")
	}
}

func TestLimitRejectsOversized(t *testing.T) {
	c := Limit[backend.Entry]{Inner: Wire{}, MaxDecode: 10}
	b, _ := c.Encode(sampleEntry())
	if _, err := c.Decode(b); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("want too large error, got %v", err)
	}
	c.MaxDecode = 0
	if _, err := c.Decode(b); err != nil {
		t.Fatalf("disabled limit: %v", err)
	}
}

func TestForStoreAppliesLimit(t *testing.T) {
	e := sampleEntry()

	plain, err := ForStore("msgpack", 0)
	if err != nil {
		t.Fatalf("ForStore: %v", err)
	}
	if _, ok := plain.(Limit[backend.Entry]); ok {
		t.Fatalf("maxDecode 0 must not wrap")
	}

	capped, err := ForStore("msgpack", 8)
	if err != nil {
		t.Fatalf("ForStore: %v", err)
	}
	b, err := capped.Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := capped.Decode(b); err == nil {
		t.Fatalf("decode of %d bytes should exceed the 8 byte cap", len(b))
	}
	if _, err := ForStore("nope", 8); err == nil {
		t.Fatalf("unknown codec accepted")
	}
}
