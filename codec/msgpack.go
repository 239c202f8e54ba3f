package codec

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack uses vmihailenco/msgpack with compact ints and sorted map keys.
// Key sorting covers map[string]string, map[string]bool and map[string]any;
// other map types are written in iteration order. Structs are written in
// field order. Field names follow `msgpack` tags.
type Msgpack[V any] struct{}

var _ Codec[struct{}] = Msgpack[struct{}]{}

func (Msgpack[V]) Encode(v V) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Msgpack[V]) Decode(b []byte) (v V, err error) {
	err = msgpack.Unmarshal(b, &v)
	return v, err
}
