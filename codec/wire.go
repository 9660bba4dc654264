package codec

import (
	"time"

	"github.com/unkn0wn-root/capcache/backend"
	"github.com/unkn0wn-root/capcache/internal/wire"
)

// Wire is the default entry codec: a fixed header plus the raw payload.
type Wire struct{}

var _ Codec[backend.Entry] = Wire{}

func (Wire) Encode(e backend.Entry) ([]byte, error) {
	return wire.EncodeEntry(e.CreatedAt.UnixNano(), e.ExpiresAt.UnixNano(), e.Payload), nil
}

func (Wire) Decode(b []byte) (backend.Entry, error) {
	c, x, p, err := wire.DecodeEntry(b)
	if err != nil {
		return backend.Entry{}, err
	}
	return backend.Entry{
		Payload:   backend.Clone(p),
		CreatedAt: time.Unix(0, c),
		ExpiresAt: time.Unix(0, x),
	}, nil
}
