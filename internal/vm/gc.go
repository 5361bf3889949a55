// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vm

import "github.com/microblocks-fw/vm/pkg/log"

// RootWalker lets the heap's collector reach every root the spec names
// in §3.4 — the global variable array, per-task stacks up to their stack
// pointer, the code chunk table, and the scratch slot — without the vm
// package needing to import internal/sched or internal/store. The
// caller (internal/sched, which owns the task table) supplies a closure
// that calls visit once per root slot; the collector calls visit again
// with the (possibly updated) value after compaction to rewrite it.
type RootWalker func(visit func(old Value) (new Value))

// collect runs one mark-sweep-compact pass. This is a simplification of
// the reference's in-place pointer-reversal marking (spec.md §4.1): the
// Non-goals section states "a full garbage collector is not required",
// so rather than implement Deutsch-Schorr-Waite pointer reversal this
// uses an explicit mark stack and a forwarding table, which is the
// standard technique for a compacting collector and produces the same
// externally observable result (survivors slid left, roots rewritten).
// Collect forces an immediate collection pass against roots, regardless
// of free space; it does nothing when the heap was built with the
// collector disabled or roots is nil. internal/maint calls this on a wall-clock schedule so a
// sweep can run ahead of an allocation that would otherwise trigger one,
// the same proactive-vs-reactive split store.CompactIfNeeded gives the
// persistent store.
func (h *Heap) Collect(roots RootWalker) {
	if !h.gcEnabled || roots == nil {
		return
	}
	h.collect(roots)
}

func (h *Heap) collect(roots RootWalker) {
	h.collectCnt++
	marked := make(map[int]bool)
	var stack []int

	markRef := func(v Value) {
		if !IsHeapRef(v) {
			return
		}
		idx := refToIndex(v)
		if marked[idx] {
			return
		}
		marked[idx] = true
		stack = append(stack, idx)
	}

	roots(func(old Value) (new Value) {
		markRef(old)
		return old
	})
	markRef(h.scratch)

	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		hd := h.header(idx)
		switch hd.tag() {
		case arrayTag:
			for i := 0; i < hd.wordCount(); i++ {
				markRef(h.words[idx+1+i])
			}
		case listTag:
			length := int(IntValue(h.words[idx+1]))
			for i := 0; i < length; i++ {
				markRef(h.words[idx+2+i])
			}
		// ByteArray and String payloads are raw bytes, not references —
		// the spec calls this out explicitly for Strings, and the same
		// holds for ByteArray and CodeChunk bytecode words.
		case byteArrayTag, stringTag, codeChunkTag:
		}
	}

	// Forwarding pass: walk the heap low to high, assign each marked
	// object its new (compacted) address.
	forward := make(map[int]int, len(marked))
	dst := reservedWords
	for idx := reservedWords; idx < h.free; {
		hd := h.header(idx)
		size := 1 + hd.wordCount()
		if marked[idx] {
			forward[idx] = dst
			dst += size
		}
		idx += size
	}

	// Slide survivors into place. Forward iteration with copy() is safe
	// even though src and dst can overlap, because dst <= src always
	// holds here (objects only ever move toward lower addresses).
	for idx := reservedWords; idx < h.free; {
		hd := h.header(idx)
		size := 1 + hd.wordCount()
		if marked[idx] {
			newIdx := forward[idx]
			if newIdx != idx {
				copy(h.words[newIdx:newIdx+size], h.words[idx:idx+size])
			}
		}
		idx += size
	}
	h.free = dst

	// Rewrite every surviving object's internal references, then the
	// roots themselves, using the forwarding table.
	rewrite := func(v Value) Value {
		if !IsHeapRef(v) {
			return v
		}
		if newIdx, ok := forward[refToIndex(v)]; ok {
			return indexToRef(newIdx)
		}
		return v
	}

	for idx := reservedWords; idx < h.free; {
		hd := h.header(idx)
		size := 1 + hd.wordCount()
		switch hd.tag() {
		case arrayTag:
			for i := 0; i < hd.wordCount(); i++ {
				h.words[idx+1+i] = rewrite(h.words[idx+1+i])
			}
		case listTag:
			length := int(IntValue(h.words[idx+1]))
			for i := 0; i < length; i++ {
				h.words[idx+2+i] = rewrite(h.words[idx+2+i])
			}
		}
		idx += size
	}

	roots(func(old Value) (new Value) {
		return rewrite(old)
	})
	h.scratch = rewrite(h.scratch)

	log.Debugf("[VM]> gc pass %d: %d objects survived, %d words free", h.collectCnt, len(marked), h.FreeWords())
}
