// Package codec turns cached values into bytes and back. The cache frames the
// bytes itself, so codecs only see the payload.
package codec

import "fmt"

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// ByName returns the codec registered under name: "json", "msgpack", "cbor"
// or "cbor-det" (deterministic CBOR). Used by configuration.
func ByName[V any](name string) (Codec[V], error) {
	switch name {
	case "", "json":
		return JSON[V]{}, nil
	case "msgpack":
		return Msgpack[V]{}, nil
	case "cbor":
		return NewCBOR[V](CBOROptions{})
	case "cbor-det":
		return NewCBOR[V](CBOROptions{Deterministic: true})
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}
