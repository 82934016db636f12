package fido

// A minimal CBOR encoder covering exactly the fixed-shape maps CTAP2
// needs (text-string keys, byte-string/text-string/map/array/uint values).
// Not a general CBOR codec; see the package doc comment.

func encodeUint(major byte, n uint64) []byte {
	switch {
	case n < 24:
		return []byte{major<<5 | byte(n)}
	case n < 0x100:
		return []byte{major<<5 | 24, byte(n)}
	case n < 0x10000:
		return []byte{major<<5 | 25, byte(n >> 8), byte(n)}
	case n < 0x100000000:
		return []byte{major<<5 | 26, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	default:
		return []byte{major<<5 | 27,
			byte(n >> 56), byte(n >> 48), byte(n >> 40), byte(n >> 32),
			byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	}
}

// cborValue is a pre-encoded CBOR item, so a map/array can be built from
// already-encoded children without the encoder needing reflection.
type cborValue []byte

// Field is one key/value pair of a CBOR map, in caller-given order (CTAP2
// canonical key ordering isn't needed for the fixed request shapes this
// handler sends).
type Field struct {
	Key   string
	Value cborValue
}

func Text(s string) cborValue { return append(encodeUint(3, uint64(len(s))), []byte(s)...) }
func Bytes(b []byte) cborValue { return append(encodeUint(2, uint64(len(b))), b...) }
func UInt(n uint64) cborValue  { return encodeUint(0, n) }

func Bool(b bool) cborValue {
	if b {
		return cborValue{0xF5}
	}
	return cborValue{0xF4}
}

func Array(items []cborValue) cborValue {
	out := encodeUint(4, uint64(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func Map(fields []Field) cborValue {
	out := encodeUint(5, uint64(len(fields)))
	for _, f := range fields {
		out = append(out, Text(f.Key)...)
		out = append(out, f.Value...)
	}
	return cborValue(out)
}
