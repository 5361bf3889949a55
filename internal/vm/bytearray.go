// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vm

// ByteArrayLength returns the number of stored bytes (4*wordCount - adjust).
func (h *Heap) ByteArrayLength(ref Value) int {
	return h.header(refToIndex(ref)).byteLength()
}

// ByteArrayAt returns int(byte) at 1-based index k (spec.md §4.4 Indexing rules).
func (h *Heap) ByteArrayAt(ref Value, k int) (Value, ErrorCode) {
	idx := refToIndex(ref)
	n := h.header(idx).byteLength()
	if k < 1 || k > n {
		return False, IndexOutOfRange
	}
	return MakeInt(int32(h.payloadByte(idx, k-1))), NoError
}

// ByteArrayAtPut stores a byte at 1-based index k. v must decode to an
// integer in [0, 255] (spec.md §3.3 byteArrayStoreError).
func (h *Heap) ByteArrayAtPut(ref Value, k int, v Value) ErrorCode {
	if !IsInt(v) {
		return NeedsInteger
	}
	b := IntValue(v)
	if b < 0 || b > 255 {
		return ByteArrayStore
	}
	idx := refToIndex(ref)
	n := h.header(idx).byteLength()
	if k < 1 || k > n {
		return IndexOutOfRange
	}
	h.setPayloadByte(idx, k-1, byte(b))
	return NoError
}

// ByteArrayBytes copies out the stored bytes as a Go slice, for
// primitives/protocol code that need to hand the raw bytes to an
// external collaborator.
func (h *Heap) ByteArrayBytes(ref Value) []byte {
	idx := refToIndex(ref)
	n := h.header(idx).byteLength()
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = h.payloadByte(idx, i)
	}
	return out
}
