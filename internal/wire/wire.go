// Package wire is the compact binary framing for stored entries.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version byte = 1
	hdrLen       = 4 + 1 + 8 + 8 + 4
)

var (
	ErrCorrupt = errors.New("capcache: corrupt entry")
	magic4     = [...]byte{'C', 'A', 'P', 'E'}
)

// Entry: magic(4) | ver(1) | created(i64 be, unix nanos) | expires(i64 be, unix nanos) | vlen(u32 be) | payload(vlen)
func EncodeEntry(createdNanos, expiresNanos int64, payload []byte) []byte {
	out := make([]byte, hdrLen+len(payload))
	copy(out, magic4[:])
	out[4] = version
	binary.BigEndian.PutUint64(out[5:13], uint64(createdNanos))
	binary.BigEndian.PutUint64(out[13:21], uint64(expiresNanos))
	binary.BigEndian.PutUint32(out[21:25], uint32(len(payload)))
	copy(out[hdrLen:], payload)
	return out
}

// DecodeEntry returns a payload slice aliasing b.
func DecodeEntry(b []byte) (createdNanos, expiresNanos int64, payload []byte, err error) {
	if len(b) < hdrLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return 0, 0, nil, ErrCorrupt
	}
	createdNanos = int64(binary.BigEndian.Uint64(b[5:13]))
	expiresNanos = int64(binary.BigEndian.Uint64(b[13:21]))
	vlen := int(binary.BigEndian.Uint32(b[21:25]))
	if vlen != len(b)-hdrLen {
		return 0, 0, nil, ErrCorrupt
	}
	return createdNanos, expiresNanos, b[hdrLen:], nil
}
