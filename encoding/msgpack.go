// Package encoding holds the msgpack codec used for records persisted in the
// export log. Marshal and Unmarshal are safe for concurrent use.
package encoding

import (
	"bytes"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

type pooledEncoder struct {
	buf *bytes.Buffer
	enc *msgpack.Encoder
}

var encoders = sync.Pool{
	New: func() any {
		buf := new(bytes.Buffer)
		enc := msgpack.NewEncoder(buf)
		return &pooledEncoder{buf: buf, enc: enc}
	},
}

// Marshal encodes v with a pooled encoder. The returned slice is owned by the
// caller.
func Marshal(v any) ([]byte, error) {
	e := encoders.Get().(*pooledEncoder)
	defer encoders.Put(e)
	e.buf.Reset()

	if err := e.enc.Encode(v); err != nil {
		return nil, err
	}

	out := make([]byte, e.buf.Len())
	copy(out, e.buf.Bytes())
	return out, nil
}

// Unmarshal decodes data into v. Strings decoded into interface values stay
// strings.
func Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}
