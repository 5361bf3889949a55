// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vm

// Value is a single 32-bit machine word: a tagged 31-bit signed integer,
// one of the two boolean sentinels, or a reference to a heap object.
// Tagged values are deliberately a bare uint32, not a struct wrapper
// around an interface{} — boxing every value would defeat the point of
// a tagged representation (spec.md §3.1, §9 "Tagged values").
type Value uint32

const (
	// False and True are fixed bit patterns, not references to memory.
	False Value = 0x00000000
	True  Value = 0x00000004
)

// ValueType is the small type tag objType() reports for a value: it
// covers both the two non-heap kinds (boolean, integer) and the heap
// kinds, collapsing CodeChunk (never user-visible through objType) into
// OtherType.
type ValueType byte

const (
	BooleanType ValueType = iota
	IntegerType
	ByteArrayType
	StringType
	ArrayType
	ListType
	OtherType
)

func (t ValueType) String() string {
	switch t {
	case BooleanType:
		return "boolean"
	case IntegerType:
		return "integer"
	case ByteArrayType:
		return "byteArray"
	case StringType:
		return "string"
	case ArrayType:
		return "array"
	case ListType:
		return "list"
	default:
		return "other"
	}
}

// MakeInt encodes x as a tagged integer. Encoding is constant-time: a
// shift and an or, with no range check — overflow wraps per spec.md
// §4.4 "Numeric semantics" (modular 31-bit two's complement), matching
// ordinary Go signed-integer wraparound semantics.
func MakeInt(x int32) Value {
	return Value(uint32(x)<<1) | 1
}

// IntValue decodes a tagged integer back to its signed value. The
// right shift is arithmetic because v is first reinterpreted as int32,
// which sign-extends bit 31 into the vacated low bit.
func IntValue(v Value) int32 {
	return int32(v) >> 1
}

// IsInt reports whether v is a tagged integer (I1: IntValue(MakeInt(x)) == x
// for x in [-2^30, 2^30-1], the representable range of a 31-bit tagged word).
func IsInt(v Value) bool {
	return v&1 == 1
}

// MakeBool encodes a Go bool as the corresponding sentinel.
func MakeBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// BoolValue decodes a boolean sentinel. Callers must have already
// confirmed v is one of the two sentinels via IsBool.
func BoolValue(v Value) bool {
	return v == True
}

// IsBool reports whether v is one of the two boolean sentinels.
func IsBool(v Value) bool {
	return v == False || v == True
}

// IsHeapRef reports whether v addresses a heap object: word-aligned,
// and not one of the two reserved boolean sentinels.
func IsHeapRef(v Value) bool {
	return v&1 == 0 && v != False && v != True
}
