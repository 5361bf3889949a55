// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"fmt"
	"sort"

	"github.com/microblocks-fw/vm/pkg/log"
)

// Compact copies the latest live record of every chunk id, variable id,
// and comment id into the other half-space, then commits by writing
// that half's header last with cycle+1 (spec.md §4.2 "Compaction"). This
// single final header write is what makes the operation atomic: a crash
// at any point before it leaves the original half still fully valid and
// active.
func (s *Store) Compact() error {
	otherBase := s.halfSpaceSize
	if s.activeBase == s.halfSpaceSize {
		otherBase = 0
	}

	if err := s.flash.Erase(otherBase, s.halfSpaceSize); err != nil {
		return err
	}

	newFree := otherBase + 4
	newChunkAddr := make(map[byte]uint32)
	newVarAddr := make(map[byte]uint32)

	writeTo := func(recType recordType, id, extra byte, data []byte) error {
		limit := otherBase + s.halfSpaceSize
		if newFree+recordSize(len(data)) > limit {
			return fmt.Errorf("store: compaction target half-space overflowed (this should be impossible if the live set fit the active half)")
		}
		next, err := writeRecord(s.flash, newFree, recType, id, extra, data)
		if err != nil {
			return err
		}
		addr := newFree
		newFree = next
		switch recType {
		case chunkCode:
			newChunkAddr[id] = addr
		case varValue:
			newVarAddr[id] = addr
		}
		return nil
	}

	for _, id := range sortedKeys(s.chunkAddr.Keys()) {
		code, ok := s.ChunkCode(id)
		if !ok {
			continue
		}
		subType, _ := s.chunkSub[id]
		if err := writeTo(chunkCode, id, subType, code); err != nil {
			return err
		}
		if pos, ok := s.chunkPos[id]; ok {
			if err := writeTo(chunkPosition, id, 0, pos); err != nil {
				return err
			}
		}
		for attr, data := range s.chunkAttr[id] {
			if err := writeTo(chunkAttribute, id, attr, data); err != nil {
				return err
			}
		}
		if src, ok := s.chunkSrc[id]; ok {
			if err := writeTo(chunkSource, id, 0, src); err != nil {
				return err
			}
		}
	}

	for _, id := range sortedKeys(s.varAddr.Keys()) {
		value, ok := s.VarValue(id)
		if !ok {
			continue
		}
		if err := writeTo(varValue, id, 0, value); err != nil {
			return err
		}
		if name, ok := s.varNames[id]; ok {
			if err := writeTo(varName, id, 0, name); err != nil {
				return err
			}
		}
	}

	for id, text := range s.commentText {
		if err := writeTo(comment, id, 0, text); err != nil {
			return err
		}
		if pos, ok := s.commentPos[id]; ok {
			if err := writeTo(commentPosition, id, 0, pos); err != nil {
				return err
			}
		}
	}

	newCycle := s.cycle + 1
	if err := s.flash.WriteWord(otherBase, packHalfSpaceHeader(newCycle)); err != nil {
		return err
	}

	log.Notef("[STORE]> compaction committed half=%d cycle=%d chunks=%d vars=%d", otherIndex(otherBase, s.halfSpaceSize), newCycle, len(newChunkAddr), len(newVarAddr))

	s.activeBase = otherBase
	s.freePtr = newFree
	s.cycle = newCycle
	for id, addr := range newChunkAddr {
		s.chunkAddr.Add(id, addr)
	}
	for id, addr := range newVarAddr {
		s.varAddr.Add(id, addr)
	}
	return nil
}

// compactionReadyFraction is how full the active half must be before
// CompactIfNeeded proactively compacts, rather than waiting for the
// reactive "won't fit" trigger at append time (spec.md §4.2
// "Compaction"). internal/maint polls this on a wall-clock schedule so
// compaction can run ahead of a write that would otherwise block.
const compactionReadyFraction = 0.75

// CompactIfNeeded runs Compact only once the active half has crossed
// compactionReadyFraction full, giving the reactive "half-space cannot
// fit a new record" trigger a proactive counterpart a caller can poll
// without waiting for a write to fail first.
func (s *Store) CompactIfNeeded() error {
	used := s.freePtr - s.activeBase
	if float64(used) < float64(s.halfSpaceSize)*compactionReadyFraction {
		return nil
	}
	return s.Compact()
}

func otherIndex(base, halfSpaceSize uint32) int {
	if base == 0 {
		return 0
	}
	return 1
}

func sortedKeys(ids []byte) []byte {
	out := make([]byte, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
