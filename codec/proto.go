package codec

import (
	"errors"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/unkn0wn-root/capcache/backend"
)

// Proto writes entries in protobuf wire format, compatible with:
//
//	message Entry {
//	  bytes payload = 1;
//	  int64 created_unix_nano = 2;
//	  int64 expires_unix_nano = 3;
//	}
//
// Unknown fields are skipped on decode so the message can grow.
type Proto struct{}

var _ Codec[backend.Entry] = Proto{}

const (
	fieldPayload protowire.Number = 1
	fieldCreated protowire.Number = 2
	fieldExpires protowire.Number = 3
)

var errProto = errors.New("codec: malformed protobuf entry")

func (Proto) Encode(e backend.Entry) ([]byte, error) {
	b := make([]byte, 0, len(e.Payload)+32)
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Payload)
	b = protowire.AppendTag(b, fieldCreated, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.CreatedAt.UnixNano()))
	b = protowire.AppendTag(b, fieldExpires, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.ExpiresAt.UnixNano()))
	return b, nil
}

func (Proto) Decode(b []byte) (backend.Entry, error) {
	var e backend.Entry
	var created, expires int64
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return backend.Entry{}, errProto
		}
		b = b[n:]
		switch {
		case num == fieldPayload && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return backend.Entry{}, errProto
			}
			e.Payload = backend.Clone(v)
			b = b[m:]
		case (num == fieldCreated || num == fieldExpires) && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return backend.Entry{}, errProto
			}
			if num == fieldCreated {
				created = int64(v)
			} else {
				expires = int64(v)
			}
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return backend.Entry{}, errProto
			}
			b = b[m:]
		}
	}
	e.CreatedAt = time.Unix(0, created)
	e.ExpiresAt = time.Unix(0, expires)
	return e, nil
}
