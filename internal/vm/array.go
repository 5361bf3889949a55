// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vm

// ArrayLength returns the fixed length of an Array (its word count).
func (h *Heap) ArrayLength(ref Value) int {
	return h.header(refToIndex(ref)).wordCount()
}

// ArrayAt returns the k-th element, 1-based.
func (h *Heap) ArrayAt(ref Value, k int) (Value, ErrorCode) {
	idx := refToIndex(ref)
	length := h.header(idx).wordCount()
	if k < 1 || k > length {
		return False, IndexOutOfRange
	}
	return h.words[idx+k], NoError
}

// ArrayAtPut stores v at the k-th element, 1-based.
func (h *Heap) ArrayAtPut(ref Value, k int, v Value) ErrorCode {
	idx := refToIndex(ref)
	length := h.header(idx).wordCount()
	if k < 1 || k > length {
		return IndexOutOfRange
	}
	h.words[idx+k] = v
	return NoError
}

// FillArray sets every element of an Array (or the storage of a List up
// to its capacity) to v, implementing the fillArray opcode.
func (h *Heap) FillArray(ref Value, v Value) {
	idx := refToIndex(ref)
	n := h.header(idx).wordCount()
	for i := 1; i <= n; i++ {
		h.words[idx+i] = v
	}
}
