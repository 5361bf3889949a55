// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package proto

import (
	"sync"

	"github.com/microblocks-fw/vm/internal/interp"
	"github.com/microblocks-fw/vm/internal/vm"
)

// DefaultOutputBufferSize is spec.md §4.5 "Buffering"'s reference size.
const DefaultOutputBufferSize = 1024

// OutputBuffer is the VM's circular output buffer (spec.md §4.5
// "Buffering"): encoded wire frames queue here until a Session's write
// loop drains them onto the transport. TryEmit never blocks; when a
// frame doesn't fit it reports false so the interpreter backs its
// instruction pointer up by one and the emitting task retries once
// space frees up, exactly the contract interp.OutputSink documents.
type OutputBuffer struct {
	hp *vm.Heap

	mu          sync.Mutex
	ring        []byte
	start, size int
}

// NewOutputBuffer allocates a buffer of the given capacity, rounded up
// to the next power of two as spec.md requires. hp resolves heap
// references in the messages TryEmit encodes.
func NewOutputBuffer(hp *vm.Heap, capacity int) *OutputBuffer {
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &OutputBuffer{hp: hp, ring: make([]byte, n)}
}

// TryEmit implements interp.OutputSink.
func (b *OutputBuffer) TryEmit(msg interp.OutMessage) bool {
	frame := EncodeOutMessage(b.hp, msg)

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(frame) > len(b.ring)-b.size {
		return false
	}
	end := (b.start + b.size) % len(b.ring)
	for _, c := range frame {
		b.ring[end] = c
		end = (end + 1) % len(b.ring)
	}
	b.size += len(frame)
	return true
}

// Drain removes and returns up to max queued bytes, in FIFO order, for
// a Session's write loop to hand to its Transport.
func (b *OutputBuffer) Drain(max int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.size
	if n > max {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = b.ring[(b.start+i)%len(b.ring)]
	}
	b.start = (b.start + n) % len(b.ring)
	b.size -= n
	return out
}

// Len reports how many bytes are currently queued.
func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}
