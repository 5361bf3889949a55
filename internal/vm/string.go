// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vm

import "unicode/utf8"

// StringBytes returns the UTF-8 bytes stored in a String, up to (not
// including) its NUL terminator.
func (h *Heap) StringBytes(ref Value) []byte {
	idx := refToIndex(ref)
	hd := h.header(idx)
	max := hd.wordCount() * 4
	out := make([]byte, 0, max)
	for i := 0; i < max; i++ {
		b := h.payloadByte(idx, i)
		if b == 0 {
			break
		}
		out = append(out, b)
	}
	return out
}

// CodepointCount returns the number of Unicode code points in a String
// (spec.md §4.4: "indexing is defined on Unicode code points, not bytes").
func (h *Heap) CodepointCount(ref Value) int {
	return utf8.RuneCount(h.StringBytes(ref))
}

// StringAt returns a new one-character String holding the k-th Unicode
// code point (1-based). Callers resolve the "last"/"random" sentinel
// names before calling this, since those are a naming convention at the
// primitive layer rather than a vm-level index kind.
func (h *Heap) StringAt(ref Value, k int, roots RootWalker) (Value, ErrorCode) {
	bytes := h.StringBytes(ref)
	i := 0
	pos := 0
	for pos < len(bytes) {
		r, size := utf8.DecodeRune(bytes[pos:])
		i++
		if i == k {
			if r == utf8.RuneError && size <= 1 {
				return False, InvalidUnicode
			}
			v, err := h.NewString(bytes[pos:pos+size], roots)
			if err != nil {
				return False, InsufficientMemory
			}
			return v, NoError
		}
		pos += size
	}
	return False, IndexOutOfRange
}

// UnicodeAt returns the raw code point value at 1-based index k as a
// tagged integer (the unicodeAt primitive, distinct from the String-
// returning "at" opcode).
func (h *Heap) UnicodeAt(ref Value, k int) (Value, ErrorCode) {
	bytes := h.StringBytes(ref)
	i := 0
	pos := 0
	for pos < len(bytes) {
		r, size := utf8.DecodeRune(bytes[pos:])
		i++
		if i == k {
			if r == utf8.RuneError && size <= 1 {
				return False, InvalidUnicode
			}
			return MakeInt(int32(r)), NoError
		}
		pos += size
	}
	return False, IndexOutOfRange
}

// UnicodeString builds a one-character String from a raw code point
// value, the inverse of UnicodeAt (spec.md §8 law R3).
func (h *Heap) UnicodeString(codepoint int32, roots RootWalker) (Value, error) {
	buf := make([]byte, utf8.UTFMax)
	n := utf8.EncodeRune(buf, rune(codepoint))
	return h.NewString(buf[:n], roots)
}
