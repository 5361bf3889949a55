// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import "fmt"

// append writes one record to the active half, compacting first if it
// doesn't fit (spec.md §4.2 "Compaction": "when the active half-space
// cannot fit a new record").
func (s *Store) append(recType recordType, id, extra byte, data []byte) (uint32, error) {
	size := recordSize(len(data))
	if s.freePtr+size > s.activeBase+s.halfSpaceSize {
		if err := s.Compact(); err != nil {
			return 0, err
		}
		if s.freePtr+size > s.activeBase+s.halfSpaceSize {
			return 0, fmt.Errorf("store: record of %d bytes does not fit even after compaction (half-space size %d)", size, s.halfSpaceSize)
		}
	}
	addr := s.freePtr
	next, err := writeRecord(s.flash, addr, recType, id, extra, data)
	if err != nil {
		return 0, err
	}
	s.freePtr = next
	return addr, nil
}

// StoreChunkCode appends bytecode for chunk id with sub-type subType and
// updates the in-memory index; the returned address is where the
// interpreter can read the chunk's bytecode directly from flash.
func (s *Store) StoreChunkCode(id, subType byte, code []byte) (uint32, error) {
	addr, err := s.append(chunkCode, id, subType, code)
	if err != nil {
		return 0, err
	}
	s.chunkAddr.Add(id, addr)
	s.chunkSub[id] = subType
	return addr, nil
}

// DeleteChunk appends a chunkDeleted tombstone and drops the chunk from
// every index (code, position, attributes, source).
func (s *Store) DeleteChunk(id byte) error {
	if _, err := s.append(chunkDeleted, id, 0, nil); err != nil {
		return err
	}
	s.chunkAddr.Remove(id)
	delete(s.chunkSub, id)
	delete(s.chunkPos, id)
	delete(s.chunkAttr, id)
	delete(s.chunkSrc, id)
	return nil
}

// DeleteAllCode tombstones every currently-live chunk (host "deleteAllCode").
func (s *Store) DeleteAllCode() error {
	for _, id := range s.chunkAddr.Keys() {
		if err := s.DeleteChunk(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SetChunkPosition(id byte, pos []byte) error {
	if _, err := s.append(chunkPosition, id, 0, pos); err != nil {
		return err
	}
	s.chunkPos[id] = pos
	return nil
}

func (s *Store) SetChunkAttribute(id, attr byte, data []byte) error {
	if _, err := s.append(chunkAttribute, id, attr, data); err != nil {
		return err
	}
	if s.chunkAttr[id] == nil {
		s.chunkAttr[id] = make(map[byte][]byte)
	}
	s.chunkAttr[id][attr] = data
	return nil
}

func (s *Store) SetChunkSource(id byte, src []byte) error {
	if _, err := s.append(chunkSource, id, 0, src); err != nil {
		return err
	}
	s.chunkSrc[id] = src
	return nil
}

// ChunkCode reads chunk id's current bytecode directly from flash.
func (s *Store) ChunkCode(id byte) ([]byte, bool) {
	addr, ok := s.chunkAddr.Get(id)
	if !ok {
		return nil, false
	}
	rec, _, ok, err := readRecord(s.flash, addr, s.activeBase+s.halfSpaceSize)
	if err != nil || !ok {
		return nil, false
	}
	return rec.data, true
}

func (s *Store) ChunkSubType(id byte) (byte, bool) {
	st, ok := s.chunkSub[id]
	return st, ok
}

func (s *Store) ChunkPosition(id byte) ([]byte, bool) {
	p, ok := s.chunkPos[id]
	return p, ok
}

func (s *Store) ChunkAttribute(id, attr byte) ([]byte, bool) {
	m, ok := s.chunkAttr[id]
	if !ok {
		return nil, false
	}
	v, ok := m[attr]
	return v, ok
}

func (s *Store) ChunkSource(id byte) ([]byte, bool) {
	v, ok := s.chunkSrc[id]
	return v, ok
}

// ChunkIDs returns every currently-live chunk id, for sched.Bootstrap to
// rehydrate the chunk table at startup.
func (s *Store) ChunkIDs() []byte {
	return s.chunkAddr.Keys()
}

func (s *Store) SetVarName(id byte, name []byte) error {
	if _, err := s.append(varName, id, 0, name); err != nil {
		return err
	}
	s.varNames[id] = name
	return nil
}

func (s *Store) SetVarValue(id byte, value []byte) error {
	addr, err := s.append(varValue, id, 0, value)
	if err != nil {
		return err
	}
	s.varAddr.Add(id, addr)
	return nil
}

func (s *Store) DeleteVar(id byte) error {
	if _, err := s.append(varDeleted, id, 0, nil); err != nil {
		return err
	}
	s.varAddr.Remove(id)
	delete(s.varNames, id)
	return nil
}

func (s *Store) VarName(id byte) ([]byte, bool) {
	n, ok := s.varNames[id]
	return n, ok
}

func (s *Store) VarValue(id byte) ([]byte, bool) {
	addr, ok := s.varAddr.Get(id)
	if !ok {
		return nil, false
	}
	rec, _, ok, err := readRecord(s.flash, addr, s.activeBase+s.halfSpaceSize)
	if err != nil || !ok {
		return nil, false
	}
	return rec.data, true
}

func (s *Store) SetComment(id byte, text []byte) error {
	if _, err := s.append(comment, id, 0, text); err != nil {
		return err
	}
	s.commentText[id] = text
	return nil
}

func (s *Store) SetCommentPosition(id byte, pos []byte) error {
	if _, err := s.append(commentPosition, id, 0, pos); err != nil {
		return err
	}
	s.commentPos[id] = pos
	return nil
}

func (s *Store) DeleteComment(id byte) error {
	if _, err := s.append(commentDeleted, id, 0, nil); err != nil {
		return err
	}
	delete(s.commentText, id)
	delete(s.commentPos, id)
	return nil
}

// Cycle reports the active half-space's current cycle count, for the
// debug/metrics surface and for S4-style compaction tests.
func (s *Store) Cycle() uint32 { return s.cycle }

// ActiveHalf reports which half-space (0 or 1) is currently active.
func (s *Store) ActiveHalf() int {
	if s.activeBase == 0 {
		return 0
	}
	return 1
}
