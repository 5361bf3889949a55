// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sched

import (
	"encoding/binary"

	"github.com/microblocks-fw/vm/internal/vm"
)

// maxChunks mirrors spec.md §3.5: "a fixed-size table indexed 0...255".
const maxChunks = 256

// ChunkType is the chunk's hat/block kind (spec.md §4.5 "startAll"),
// grounded directly on the original runtime's ChunkType_t enum: a
// command or reporter chunk only ever runs as a callee, a functionHat
// is a user-defined function, and startHat/whenConditionHat are the two
// kinds startAll turns into tasks.
type ChunkType byte

const (
	UnusedChunk ChunkType = iota
	Command
	Reporter
	FunctionHat
	StartHat
	WhenConditionHat
)

func (t ChunkType) autoStarts() bool {
	return t == StartHat || t == WhenConditionHat
}

type chunkEntry struct {
	Code vm.Value
	Type ChunkType
}

// ChunkTable is the in-heap code chunk table: chunk index -> compiled
// CodeChunk object plus its hat type. It implements interp.ChunkProvider
// so the interpreter can resolve callFunction targets without importing
// this package.
type ChunkTable struct {
	entries [maxChunks]chunkEntry
}

// NewChunkTable returns an empty table, every slot UnusedChunk.
func NewChunkTable() *ChunkTable {
	return &ChunkTable{}
}

// Chunk implements interp.ChunkProvider.
func (ct *ChunkTable) Chunk(id int) (vm.Value, bool) {
	if id < 0 || id >= maxChunks || ct.entries[id].Type == UnusedChunk {
		return vm.False, false
	}
	return ct.entries[id].Code, true
}

func (ct *ChunkTable) Type(id int) (ChunkType, bool) {
	if id < 0 || id >= maxChunks || ct.entries[id].Type == UnusedChunk {
		return UnusedChunk, false
	}
	return ct.entries[id].Type, true
}

// Set registers id's compiled code and type, overwriting whatever was
// there before (a host storeChunk for an id already in use is a normal
// code update, not an error).
func (ct *ChunkTable) Set(id byte, ctype ChunkType, code vm.Value) {
	ct.entries[id] = chunkEntry{Code: code, Type: ctype}
}

// Clear retires id; deleteChunk and deleteAllCode both funnel through
// here after stopping any task running it.
func (ct *ChunkTable) Clear(id byte) {
	ct.entries[id] = chunkEntry{}
}

// ClearAll retires every chunk (deleteAllCode).
func (ct *ChunkTable) ClearAll() {
	for i := range ct.entries {
		ct.entries[i] = chunkEntry{}
	}
}

// Live reports every chunk id currently registered, in index order.
func (ct *ChunkTable) Live() []byte {
	var ids []byte
	for i, e := range ct.entries {
		if e.Type != UnusedChunk {
			ids = append(ids, byte(i))
		}
	}
	return ids
}

// AutoStart reports every chunk id startAll should turn into a task
// (spec.md §4.5: "starts one task for every chunk of type startHat or
// whenConditionHat").
func (ct *ChunkTable) AutoStart() []byte {
	var ids []byte
	for i, e := range ct.entries {
		if e.Type.autoStarts() {
			ids = append(ids, byte(i))
		}
	}
	return ids
}

// WalkCode folds the table's live code references into the collector's
// root walker, so a compaction pass rewrites this table too.
func (ct *ChunkTable) WalkCode(visit func(old vm.Value) (new vm.Value)) {
	for i := range ct.entries {
		if ct.entries[i].Type != UnusedChunk {
			ct.entries[i].Code = visit(ct.entries[i].Code)
		}
	}
}

// decodeWords unpacks a host-supplied bytecode blob into heap words, 4
// bytes at a time, little-endian — the same word packing
// internal/store uses for its own on-disk records, so a chunk's bytes
// read back the same way whether they came fresh off the wire or were
// rehydrated from flash.
func decodeWords(raw []byte) []vm.Value {
	wordCount := (len(raw) + 3) / 4
	words := make([]vm.Value, wordCount)
	for i := 0; i < wordCount; i++ {
		var buf [4]byte
		copy(buf[:], raw[i*4:])
		words[i] = vm.Value(binary.LittleEndian.Uint32(buf[:]))
	}
	return words
}

// LinkChunk allocates a CodeChunk on the heap and copies raw's decoded
// words into its payload, ready to be registered in a ChunkTable.
func LinkChunk(hp *vm.Heap, raw []byte) (vm.Value, error) {
	words := decodeWords(raw)
	ref, err := hp.NewCodeChunk(len(words), nil)
	if err != nil {
		return vm.False, err
	}
	idx := hp.PayloadIndex(ref)
	for i, w := range words {
		hp.SetWordAt(idx+i, w)
	}
	return ref, nil
}
