// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vm

import "github.com/microblocks-fw/vm/pkg/log"

// reservedWords keeps word indices 0 and 1 permanently unallocated so
// that the corresponding byte addresses (0 and 4) can never be handed
// out as a heap reference — those two bit patterns are already spoken
// for as the False/True sentinels (spec.md §3.1, "Heap objects live at
// word-aligned addresses distinct from these sentinels").
const reservedWords = 2

// Heap is the bump-allocated object memory described in spec.md §4.1.
// It owns one flat array of words; heap objects are laid out header-first
// at word-aligned offsets, and references are encoded as the object's
// byte address (wordIndex*4) so they never collide with the boolean
// sentinels or a tagged integer's low bit.
//
// A single contiguous region with one flat bump pointer holds every
// object; there is no chain of fixed-size buffers and no pooling.
type Heap struct {
	words      []Value
	free       int
	scratch    Value
	gcEnabled  bool
	collectCnt int
}

// NewHeap allocates a heap of the given capacity in words. gcEnabled
// selects whether newObj triggers a mark-sweep-compact pass (gc.go) when
// the bump pointer would overrun, per spec.md §3.4/§4.1's "optional
// collector" — the Non-goals section does not require one.
func NewHeap(capacityWords int, gcEnabled bool) *Heap {
	return &Heap{
		words:     make([]Value, capacityWords),
		free:      reservedWords,
		scratch:   False,
		gcEnabled: gcEnabled,
	}
}

func refToIndex(v Value) int {
	return int(v) / 4
}

func indexToRef(i int) Value {
	return Value(i * 4)
}

// Scratch returns the current scratch-root slot value (spec.md §3.4), used
// by multi-allocation primitives to anchor an in-progress result across a
// nested allocation that might trigger a collection.
func (h *Heap) Scratch() Value { return h.scratch }

// SetScratch anchors v in the scratch root. Pass False to release it.
func (h *Heap) SetScratch(v Value) { h.scratch = v }

// CollectionCount reports how many mark-sweep-compact passes have run,
// for the debug/metrics surface.
func (h *Heap) CollectionCount() int { return h.collectCnt }

// FreeWords reports how many words remain between the bump pointer and
// the end of the heap.
func (h *Heap) FreeWords() int { return len(h.words) - h.free }

// Capacity reports the heap's total size in words.
func (h *Heap) Capacity() int { return len(h.words) }

func (h *Heap) header(idx int) header {
	return header(h.words[idx])
}

func (h *Heap) setHeader(idx int, hd header) {
	h.words[idx] = Value(hd)
}

// newObj reserves 1+wordCount words from the bump pointer, writes the
// header, and fills the payload with fill. It never returns a reference
// to uninitialized memory (spec.md §4.1).
func (h *Heap) newObj(tag byte, wordCount int, fill Value, roots RootWalker) (Value, error) {
	need := 1 + wordCount
	if h.free+need > len(h.words) {
		if h.gcEnabled && roots != nil {
			h.collect(roots)
		}
		if h.free+need > len(h.words) {
			h.logOOM(need)
			return False, &OutOfMemoryError{Requested: need}
		}
	}
	idx := h.free
	h.setHeader(idx, packHeader(tag, wordCount, 0))
	for i := 1; i <= wordCount; i++ {
		h.words[idx+i] = fill
	}
	h.free += need
	return indexToRef(idx), nil
}

// NewObj is the public, roots-aware allocation entry point used by
// interpreter opcodes and primitives. roots may be nil if the caller
// knows the collector is disabled or that collection is unsafe right now
// (e.g. mid-primitive with an unanchored intermediate value).
func (h *Heap) NewObj(tag byte, wordCount int, fill Value, roots RootWalker) (Value, error) {
	return h.newObj(tag, wordCount, fill, roots)
}

// NewArray allocates a fixed-length Array of length values, each
// initialized to fill.
func (h *Heap) NewArray(length int, fill Value, roots RootWalker) (Value, error) {
	return h.newObj(arrayTag, length, fill, roots)
}

// NewCodeChunk allocates a CodeChunk object to hold wordCount words of
// compiled bytecode; the interpreter fills the payload after allocation.
func (h *Heap) NewCodeChunk(wordCount int, roots RootWalker) (Value, error) {
	return h.newObj(codeChunkTag, wordCount, MakeInt(0), roots)
}

// NewList allocates a List with the given initial capacity (payload
// words beyond the length slot). The logical length starts at 0.
func (h *Heap) NewList(capacity int, roots RootWalker) (Value, error) {
	ref, err := h.newObj(listTag, capacity+1, MakeInt(0), roots)
	if err != nil {
		return False, err
	}
	idx := refToIndex(ref)
	h.words[idx+1] = MakeInt(0) // length slot, explicit for clarity
	return ref, nil
}

// NewString allocates a String holding the given bytes, NUL-terminated
// and padded to a word boundary (spec.md §4.1 newString).
func (h *Heap) NewString(bytes []byte, roots RootWalker) (Value, error) {
	n := len(bytes)
	wordCount := (n + 1 + 3) / 4
	ref, err := h.newObj(stringTag, wordCount, MakeInt(0), roots)
	if err != nil {
		return False, err
	}
	idx := refToIndex(ref)
	for i, b := range bytes {
		h.setPayloadByte(idx, i, b)
	}
	h.setPayloadByte(idx, n, 0) // NUL terminator
	return ref, nil
}

// NewByteArray allocates a ByteArray of nBytes, zero-filled, recording
// the byte-count adjust so byteLength() reports exactly nBytes.
func (h *Heap) NewByteArray(nBytes int, roots RootWalker) (Value, error) {
	wordCount := (nBytes + 3) / 4
	adjust := byte(wordCount*4 - nBytes)
	ref, err := h.newObj(byteArrayTag, wordCount, MakeInt(0), roots)
	if err != nil {
		return False, err
	}
	idx := refToIndex(ref)
	h.setHeader(idx, packHeader(byteArrayTag, wordCount, adjust))
	return ref, nil
}

// ResizeObj allocates a new object of the same type as ref, copies
// min(oldWords, newWords) payload words across, and returns the new
// reference. The caller must treat ref as dead from this point; any
// references to it held elsewhere (e.g. on a task's stack) are the
// caller's responsibility to remap, per spec.md §4.1.
func (h *Heap) ResizeObj(ref Value, newWords int, roots RootWalker) (Value, error) {
	oldIdx := refToIndex(ref)
	oldHd := h.header(oldIdx)
	tag := oldHd.tag()
	newRef, err := h.newObj(tag, newWords, MakeInt(0), roots)
	if err != nil {
		return False, err
	}
	newIdx := refToIndex(newRef)
	n := oldHd.wordCount()
	if newWords < n {
		n = newWords
	}
	copy(h.words[newIdx+1:newIdx+1+n], h.words[oldIdx+1:oldIdx+1+n])
	if tag == byteArrayTag || tag == stringTag {
		// Preserve the byte-length bookkeeping rather than the default
		// zero adjust newObj/NewByteArray would otherwise assume.
		h.setHeader(newIdx, packHeader(tag, newWords, oldHd.byteAdjust()))
	}
	return newRef, nil
}

// ObjType returns the small type tag objType() reports for a value
// (spec.md §4.1), examining the tag bits and, for heap objects, the
// header.
func (h *Heap) ObjType(v Value) ValueType {
	switch {
	case IsBool(v):
		return BooleanType
	case IsInt(v):
		return IntegerType
	case IsHeapRef(v):
		switch h.header(refToIndex(v)).tag() {
		case byteArrayTag:
			return ByteArrayType
		case stringTag:
			return StringType
		case arrayTag:
			return ArrayType
		case listTag:
			return ListType
		default:
			return OtherType
		}
	default:
		return OtherType
	}
}

// WordCount returns the payload word count of a heap object's header.
func (h *Heap) WordCount(ref Value) int {
	return h.header(refToIndex(ref)).wordCount()
}

// PayloadIndex returns the word index of a heap object's first payload
// word, one past its header. The interpreter uses this to walk a
// CodeChunk's instruction stream and inlined literal pool directly.
func (h *Heap) PayloadIndex(ref Value) int {
	return refToIndex(ref) + 1
}

// WordAt and SetWordAt give the interpreter raw word-indexed access into
// heap memory, for code fetch, inlined-literal addressing, and the
// peek/poke opcodes. Indices are heap word indices, not byte addresses.
func (h *Heap) WordAt(idx int) Value {
	return h.words[idx]
}

func (h *Heap) SetWordAt(idx int, v Value) {
	h.words[idx] = v
}

// WriteInlineArray writes an Array's header and elements directly at
// idx, without bump-allocating: the space is assumed already reserved
// as part of a larger object (a CodeChunk's inlined literal pool,
// spec.md §4.4 "Literal pools are inlined"). idx becomes a valid Array
// reference via RefAt(idx).
func (h *Heap) WriteInlineArray(idx int, elems []Value) {
	h.setHeader(idx, packHeader(arrayTag, len(elems), 0))
	for i, e := range elems {
		h.words[idx+1+i] = e
	}
}

// RefAt converts a raw word index back into a heap reference, the
// inverse of IndexOf.
func (h *Heap) RefAt(idx int) Value {
	return indexToRef(idx)
}

// IndexOf converts a heap reference to its word index.
func (h *Heap) IndexOf(ref Value) int {
	return refToIndex(ref)
}

func (h *Heap) setPayloadByte(headerIdx, byteIndex int, b byte) {
	wordIdx := headerIdx + 1 + byteIndex/4
	shift := uint(byteIndex%4) * 8
	w := uint32(h.words[wordIdx])
	w = (w &^ (0xFF << shift)) | uint32(b)<<shift
	h.words[wordIdx] = Value(w)
}

func (h *Heap) payloadByte(headerIdx, byteIndex int) byte {
	wordIdx := headerIdx + 1 + byteIndex/4
	shift := uint(byteIndex%4) * 8
	return byte(uint32(h.words[wordIdx]) >> shift)
}

// logOOM is a small helper so allocation call sites can report pressure
// without each one re-deriving the log line.
func (h *Heap) logOOM(requested int) {
	log.Warnf("[VM]> heap exhausted: requested %d words, %d free of %d", requested, h.FreeWords(), h.Capacity())
}
