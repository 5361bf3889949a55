// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vm

// List layout (spec.md §3.2): payload[0] is the current length as a
// tagged int, payload[1..capacity] is storage, capacity = words-1.

func (h *Heap) listHeaderIdx(ref Value) int {
	return refToIndex(ref)
}

// ListLength returns a List's logical length.
func (h *Heap) ListLength(ref Value) int {
	idx := h.listHeaderIdx(ref)
	return int(IntValue(h.words[idx+1]))
}

// ListCapacity returns a List's storage capacity (words-1).
func (h *Heap) ListCapacity(ref Value) int {
	return h.header(h.listHeaderIdx(ref)).wordCount() - 1
}

func (h *Heap) setListLength(ref Value, n int) {
	idx := h.listHeaderIdx(ref)
	h.words[idx+1] = MakeInt(int32(n))
}

// ListAt returns the k-th element (1-based, spec.md §4.4 Indexing rules).
func (h *Heap) ListAt(ref Value, k int) (Value, ErrorCode) {
	length := h.ListLength(ref)
	if k < 1 || k > length {
		return False, IndexOutOfRange
	}
	idx := h.listHeaderIdx(ref)
	return h.words[idx+2+(k-1)], NoError
}

// ListAtPut stores v at the k-th element (1-based).
func (h *Heap) ListAtPut(ref Value, k int, v Value) ErrorCode {
	length := h.ListLength(ref)
	if k < 1 || k > length {
		return IndexOutOfRange
	}
	idx := h.listHeaderIdx(ref)
	h.words[idx+2+(k-1)] = v
	return NoError
}

// listGrowth is the reference's growable-list growth policy (spec.md
// §4.1): grow by max(3, min(100, len/3)) words when capacity is
// exceeded.
func listGrowth(length int) int {
	g := length / 3
	if g > 100 {
		g = 100
	}
	if g < 3 {
		g = 3
	}
	return g
}

// ListAddLast appends v, growing the backing storage if the List is at
// capacity. Returns the (possibly new, if a resize occurred) reference;
// the caller must store this back into whatever root slot held the old
// one, per ResizeObj's contract.
func (h *Heap) ListAddLast(ref Value, v Value, roots RootWalker) (Value, error) {
	length := h.ListLength(ref)
	capacity := h.ListCapacity(ref)
	if length >= capacity {
		newCapacity := capacity + listGrowth(length)
		h.SetScratch(ref) // anchor across the allocation below
		newRef, err := h.ResizeObj(ref, newCapacity+1, roots)
		h.SetScratch(False)
		if err != nil {
			return ref, err
		}
		ref = newRef
		h.setListLength(ref, length) // ResizeObj copied the old length word verbatim; kept for clarity
	}
	idx := h.listHeaderIdx(ref)
	h.words[idx+2+length] = v
	h.setListLength(ref, length+1)
	return ref, nil
}

// ListDelete removes the k-th element (1-based), shifting the tail left
// and clearing the vacated slot to int(0), per spec.md §3.3.
func (h *Heap) ListDelete(ref Value, k int) ErrorCode {
	length := h.ListLength(ref)
	if k < 1 || k > length {
		return IndexOutOfRange
	}
	idx := h.listHeaderIdx(ref)
	base := idx + 2
	for i := k - 1; i < length-1; i++ {
		h.words[base+i] = h.words[base+i+1]
	}
	h.words[base+length-1] = MakeInt(0)
	h.setListLength(ref, length-1)
	return NoError
}
