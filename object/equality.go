package object

import (
	"bytes"
	"math/big"
)

// Equals compares two values per prototype semantics: immediates by bit
// identity, strings by bytes, byte arrays by content, numbers by numeric
// value (across immediate and boxed representations), everything else by
// object identity.
func Equals(a, b Value) bool {
	// Numeric comparison must bridge the immediate/boxed split first.
	if an, aok := numericInt(a); aok {
		if bn, bok := numericInt(b); bok {
			return an.Cmp(bn) == 0
		}
		return false
	}

	if a.IsImmediate() || b.IsImmediate() {
		return Same(a, b)
	}

	ao, bo := a.Object(), b.Object()
	ap, bp := ao.Payload(), bo.Payload()
	if ap == nil || bp == nil || ap.Kind() != bp.Kind() {
		return ao == bo
	}

	switch ap.Kind() {
	case KindString:
		return bytes.Equal(ap.(*StringPayload).Bytes, bp.(*StringPayload).Bytes)
	case KindBytes:
		return bytes.Equal(ap.(*BytesPayload).Bytes, bp.(*BytesPayload).Bytes)
	case KindFloat:
		return ap.(*FloatPayload).Value == bp.(*FloatPayload).Value
	default:
		return ao == bo
	}
}

// BigOf returns an arbitrary-precision view of an integer value, covering
// small ints and boxed big integers.
func BigOf(v Value) (*big.Int, bool) {
	return numericInt(v)
}

// numericInt extracts an integer view of a value, covering small ints and
// boxed big integers.
func numericInt(v Value) (*big.Int, bool) {
	if v.IsSmallInt() {
		return big.NewInt(v.SmallIntValue()), true
	}
	if v.IsBoxed() {
		if p, ok := v.Object().Payload().(*BigIntPayload); ok {
			return p.Value, true
		}
	}
	return nil, false
}

// IntValueOf returns the int64 value of a small int or a boxed big integer
// that fits in 64 bits.
func IntValueOf(v Value) (int64, bool) {
	if v.IsSmallInt() {
		return v.SmallIntValue(), true
	}
	if v.IsBoxed() {
		if p, ok := v.Object().Payload().(*BigIntPayload); ok && p.Value.IsInt64() {
			return p.Value.Int64(), true
		}
	}
	return 0, false
}
