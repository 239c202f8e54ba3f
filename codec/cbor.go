package codec

import (
	"github.com/fxamacker/cbor/v2"
)

type CBOROptions struct {
	// Deterministic selects RFC 8949 core deterministic encoding, so equal
	// values always produce equal frames.
	Deterministic bool
	// MaxNestedLevels bounds decode depth of untrusted entries; 0 => 32.
	MaxNestedLevels int
}

// CBOR encodes values with fxamacker/cbor. Times are written as RFC 3339
// strings with nanoseconds so they survive the round trip with their zone.
// Construct with NewCBOR; the zero value panics.
type CBOR[V any] struct {
	em cbor.EncMode
	dm cbor.DecMode
}

var _ Codec[struct{}] = CBOR[struct{}]{}

func NewCBOR[V any](o CBOROptions) (CBOR[V], error) {
	eo := cbor.PreferredUnsortedEncOptions()
	if o.Deterministic {
		eo = cbor.CoreDetEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err == nil {
		var dm cbor.DecMode
		dm, err = cbor.DecOptions{MaxNestedLevels: coalesceInt(o.MaxNestedLevels, 32)}.DecMode()
		if err == nil {
			return CBOR[V]{em: em, dm: dm}, nil
		}
	}
	return CBOR[V]{}, err
}

func MustCBOR[V any](o CBOROptions) CBOR[V] {
	cd, err := NewCBOR[V](o)
	if err != nil {
		panic(err)
	}
	return cd
}

func (c CBOR[V]) Encode(v V) ([]byte, error) { return c.em.Marshal(v) }

func (c CBOR[V]) Decode(b []byte) (v V, err error) {
	err = c.dm.Unmarshal(b, &v)
	return v, err
}

func coalesceInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
