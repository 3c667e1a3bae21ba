// Package object implements the VM value and object model: tagged immediate
// values, boxed objects with class descriptors, open-addressing attribute
// tables, interned symbols, and the payload variants carried by boxed
// objects.
package object

// Immediate tag layout.
//
// A Value is either boxed (obj != nil, word unused) or immediate (obj == nil,
// word tagged). The low bit of an immediate word distinguishes small integers
// (bit set, payload in the upper 63 bits, two's complement) from the
// singleton constants, which use fixed words with the low bit clear.
const (
	tagSmallInt uint64 = 1

	wordNil       uint64 = 0x02
	wordTrue      uint64 = 0x06
	wordFalse     uint64 = 0x0A
	wordUndefined uint64 = 0x0E
)

// Small integer range representable without boxing.
const (
	MaxSmallInt = int64(1)<<62 - 1
	MinSmallInt = -(int64(1) << 62)
)

// Value is a single VM value: an immediate or a reference to a boxed Object.
//
// The zero Value is not valid; use Nil() for the absence of a value.
type Value struct {
	obj  *Object
	word uint64
}

// Singleton immediates.

// Nil returns the nil singleton.
func Nil() Value { return Value{word: wordNil} }

// True returns the true singleton.
func True() Value { return Value{word: wordTrue} }

// False returns the false singleton.
func False() Value { return Value{word: wordFalse} }

// Undefined returns the undefined singleton, used for unset slots.
func Undefined() Value { return Value{word: wordUndefined} }

// Bool returns the boolean singleton for b.
func Bool(b bool) Value {
	if b {
		return True()
	}
	return False()
}

// SmallInt packs i into an immediate. The second return is false when i is
// outside the immediate range and must be boxed as a big integer.
func SmallInt(i int64) (Value, bool) {
	if i < MinSmallInt || i > MaxSmallInt {
		return Value{}, false
	}
	return Value{word: uint64(i)<<1 | tagSmallInt}, true
}

// Boxed wraps an object reference.
func Boxed(obj *Object) Value {
	return Value{obj: obj}
}

// IsBoxed reports whether the value references a boxed object.
func (v Value) IsBoxed() bool { return v.obj != nil }

// IsImmediate reports whether the value is an immediate.
func (v Value) IsImmediate() bool { return v.obj == nil }

// Object returns the boxed object, or nil for immediates.
func (v Value) Object() *Object { return v.obj }

// IsNil reports whether the value is the nil singleton.
func (v Value) IsNil() bool { return v.obj == nil && v.word == wordNil }

// IsUndefined reports whether the value is the undefined singleton.
func (v Value) IsUndefined() bool { return v.obj == nil && v.word == wordUndefined }

// IsZero reports whether the value is the invalid zero Value.
func (v Value) IsZero() bool { return v.obj == nil && v.word == 0 }

// IsSmallInt reports whether the value is an immediate integer.
func (v Value) IsSmallInt() bool {
	return v.obj == nil && v.word&tagSmallInt != 0
}

// SmallIntValue returns the immediate integer payload. Only valid when
// IsSmallInt reports true.
func (v Value) SmallIntValue() int64 {
	return int64(v.word) >> 1
}

// IsBool reports whether the value is the true or false singleton.
func (v Value) IsBool() bool {
	return v.obj == nil && (v.word == wordTrue || v.word == wordFalse)
}

// Truthy reports the truthiness of the value: false and nil are falsy,
// everything else (including zero and undefined) is truthy.
func (v Value) Truthy() bool {
	if v.obj != nil {
		return true
	}
	return v.word != wordFalse && v.word != wordNil
}

// Same reports raw identity: bit identity for immediates, pointer identity
// for boxed objects.
func Same(a, b Value) bool {
	if a.obj != nil || b.obj != nil {
		return a.obj == b.obj
	}
	return a.word == b.word
}
