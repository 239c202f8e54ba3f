package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version byte = 1

	hdrLen = 4 + 1 + 1 + 8 + 4
)

// Kind tells a reader how to interpret a cache entry.
type Kind byte

const (
	// KindValue is a payload governed only by the store's physical TTL.
	KindValue Kind = 1
	// KindLogical is a payload with an embedded logical expiry. It never
	// physically expires; readers compare Expiry with the wall clock.
	KindLogical Kind = 2
	// KindNegative records that the source of truth confirmed the key absent.
	KindNegative Kind = 3
)

var (
	ErrCorrupt = errors.New("flashsale: corrupt cache entry")
	magic4     = [...]byte{'F', 'S', 'C', 'E'}
)

// Entry is the decoded form of a cached value.
type Entry struct {
	Kind    Kind
	Expiry  time.Time // zero unless Kind == KindLogical
	Payload []byte    // nil for KindNegative
}

// Stale reports whether a logical entry is past its expiry at now.
// Value and negative entries are never stale.
func (e Entry) Stale(now time.Time) bool {
	return e.Kind == KindLogical && !now.Before(e.Expiry)
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// magic(4) | ver(1) | kind(1) | expiry(i64 be, unix nanos; 0 = none) | vlen(u32 be) | payload(vlen)
func encode(kind Kind, expiry time.Time, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(byte(kind))

	var u8 [8]byte
	var u4 [4]byte

	var exp int64
	if !expiry.IsZero() {
		exp = expiry.UnixNano()
	}
	binary.BigEndian.PutUint64(u8[:], uint64(exp))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

func EncodeValue(payload []byte) []byte { return encode(KindValue, time.Time{}, payload) }

func EncodeLogical(payload []byte, expiry time.Time) []byte {
	return encode(KindLogical, expiry, payload)
}

func EncodeNegative() []byte { return encode(KindNegative, time.Time{}, nil) }

// Decode parses a framed entry. Framing is strict: unknown kinds, a
// negative entry with a payload and trailing bytes are all corrupt.
func Decode(b []byte) (Entry, error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version {
		return Entry{}, ErrCorrupt
	}
	kind := Kind(b[5])
	off := 6

	exp := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // overflow-safe, rejects trailing bytes
		return Entry{}, ErrCorrupt
	}

	e := Entry{Kind: kind}
	switch kind {
	case KindValue:
		if exp != 0 {
			return Entry{}, ErrCorrupt
		}
		e.Payload = b[off : off+vlen]
	case KindLogical:
		if exp == 0 {
			return Entry{}, ErrCorrupt
		}
		e.Expiry = time.Unix(0, exp)
		e.Payload = b[off : off+vlen]
	case KindNegative:
		if exp != 0 || vlen != 0 {
			return Entry{}, ErrCorrupt
		}
	default:
		return Entry{}, ErrCorrupt
	}
	return e, nil
}
