// Package codec turns stored entries into bytes for backends that persist
// raw bytes (redis, bigcache). In-process backends keep entries as values
// and need no codec.
package codec

import (
	"fmt"

	"github.com/unkn0wn-root/capcache/backend"
)

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// ByName resolves a configured codec name. Empty selects Wire.
func ByName(name string) (Codec[backend.Entry], error) {
	switch name {
	case "", "wire":
		return Wire{}, nil
	case "json":
		return JSON[backend.Entry]{}, nil
	case "msgpack":
		return Msgpack[backend.Entry]{}, nil
	case "cbor":
		c, err := NewCBOR[backend.Entry](true)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "proto":
		return Proto{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}

// ForStore resolves name and, when maxDecode > 0, caps decoded input size
// so a foreign writer sharing the store cannot plant oversized values.
func ForStore(name string, maxDecode int) (Codec[backend.Entry], error) {
	c, err := ByName(name)
	if err != nil {
		return nil, err
	}
	if maxDecode > 0 {
		return Limit[backend.Entry]{Inner: c, MaxDecode: maxDecode}, nil
	}
	return c, nil
}
