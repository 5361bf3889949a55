// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sched

import (
	"fmt"

	"github.com/microblocks-fw/vm/internal/interp"
)

// HostMsgType enumerates the host->VM message kinds of spec.md §4.5. The
// wire byte values are not arbitrary: storeChunk..stopAll, deleteAllCode
// and systemReset keep the numbers the reference runtime's interp.h
// assigns them (1-6, 14, 15); getVersion keeps the literal 0x1B spec.md
// §8 scenario S5 sends on the wire. The remaining host commands, which
// predate neither anchor, are assigned the unused 21-29 range so they
// cannot collide with the VM->host replies at 16-20 (see internal/proto's
// OutKind wire mapping).
type HostMsgType byte

const (
	MsgStoreChunk      HostMsgType = 1
	MsgDeleteChunk     HostMsgType = 2
	MsgStartChunk      HostMsgType = 3
	MsgStopChunk       HostMsgType = 4
	MsgStartAll        HostMsgType = 5
	MsgStopAll         HostMsgType = 6
	MsgDeleteAllCode   HostMsgType = 14
	MsgSystemReset     HostMsgType = 15
	MsgGetVar          HostMsgType = 21
	MsgChunkPosition   HostMsgType = 22
	MsgChunkAttribute  HostMsgType = 23
	MsgVarName         HostMsgType = 24
	MsgDeleteVar       HostMsgType = 25
	MsgComment         HostMsgType = 26
	MsgGetVersion      HostMsgType = 0x1B
	MsgCommentPosition HostMsgType = 28
	MsgDeleteComment   HostMsgType = 29

	// MsgMaintCompact and MsgMaintGC never cross the wire; internal/maint
	// posts them through the same Enqueue/Dispatch path a real host
	// command takes, so the proactive background checks it runs only
	// ever touch the heap and store from this single-threaded dispatch
	// loop, never from the maintenance scheduler's own goroutine. 0x40
	// and up is well clear of every wire-assigned value above.
	MsgMaintCompact HostMsgType = 0x40
	MsgMaintGC      HostMsgType = 0x41
)

// HostCommand is a decoded host->VM frame, built by internal/proto's
// frame layer and handed to Scheduler.Enqueue/Dispatch. ID is whichever
// one-byte id the message kind needs (chunk index, variable id,
// attribute id, or comment id); Data carries a storeChunk's bytecode, a
// varName's text, a comment's text, or a position's two coordinates.
type HostCommand struct {
	Type      HostMsgType
	ID        byte
	ChunkType ChunkType // only meaningful for MsgStoreChunk
	Attr      byte      // only meaningful for MsgChunkAttribute
	Data      []byte
}

// Persistence is the subset of internal/store's Store this package
// needs: exactly the record-append and lookup calls that make a command
// survive a reboot. It exists so Scheduler can run, and be tested,
// against an in-memory fake without importing internal/store, and so
// internal/store never needs to import internal/sched.
type Persistence interface {
	StoreChunkCode(id, subType byte, code []byte) (uint32, error)
	DeleteChunk(id byte) error
	DeleteAllCode() error
	SetChunkPosition(id byte, pos []byte) error
	SetChunkAttribute(id, attr byte, data []byte) error
	SetVarName(id byte, name []byte) error
	DeleteVar(id byte) error
	SetComment(id byte, text []byte) error
	SetCommentPosition(id byte, pos []byte) error
	DeleteComment(id byte) error

	// Consulted only at startup, to rehydrate the in-heap chunk table
	// from whatever the store recovered off flash (spec.md §4.2
	// "Recover the chunk table on startup").
	ChunkIDs() []byte
	ChunkCode(id byte) ([]byte, bool)
	ChunkSubType(id byte) (byte, bool)

	// CompactIfNeeded backs MsgMaintCompact: a no-op unless the active
	// half has crossed its proactive-compaction threshold.
	CompactIfNeeded() error
}

const vmVersion = "MicroBlocks VM 1.0.0"

// Dispatch applies one decoded host command: update the chunk table
// and/or task table, persist it if a Persistence is configured, and
// emit whatever reply message the command calls for.
func (s *Scheduler) Dispatch(cmd HostCommand) error {
	switch cmd.Type {
	case MsgStoreChunk:
		ref, err := LinkChunk(s.interp.Heap(), cmd.Data)
		if err != nil {
			return fmt.Errorf("sched: link chunk %d: %w", cmd.ID, err)
		}
		s.chunks.Set(cmd.ID, cmd.ChunkType, ref)
		if s.persist != nil {
			if _, err := s.persist.StoreChunkCode(cmd.ID, byte(cmd.ChunkType), cmd.Data); err != nil {
				return fmt.Errorf("sched: persist chunk %d: %w", cmd.ID, err)
			}
		}

	case MsgDeleteChunk:
		s.StopTaskForChunk(int(cmd.ID))
		s.chunks.Clear(cmd.ID)
		if s.persist != nil {
			return s.persist.DeleteChunk(cmd.ID)
		}

	case MsgStartChunk:
		s.StartTaskForChunk(int(cmd.ID))

	case MsgStopChunk:
		s.StopTaskForChunk(int(cmd.ID))

	case MsgStartAll:
		s.StartAll()

	case MsgStopAll:
		s.StopAll()

	case MsgDeleteAllCode:
		s.StopAll()
		s.chunks.ClearAll()
		if s.persist != nil {
			return s.persist.DeleteAllCode()
		}

	case MsgGetVersion:
		emit(s.interp, interp.OutMessage{Kind: interp.VersionMsg, Text: vmVersion})

	case MsgChunkPosition:
		if s.persist != nil {
			return s.persist.SetChunkPosition(cmd.ID, cmd.Data)
		}

	case MsgChunkAttribute:
		if s.persist != nil {
			return s.persist.SetChunkAttribute(cmd.ID, cmd.Attr, cmd.Data)
		}

	case MsgVarName:
		if s.persist != nil {
			return s.persist.SetVarName(cmd.ID, cmd.Data)
		}

	case MsgDeleteVar:
		if s.persist != nil {
			return s.persist.DeleteVar(cmd.ID)
		}

	case MsgGetVar:
		v := s.interp.Global(int(cmd.ID))
		emit(s.interp, interp.OutMessage{Kind: interp.ArgValueMsg, ChunkID: cmd.ID, Value: v, ValueType: s.interp.Heap().ObjType(v)})

	case MsgComment:
		if s.persist != nil {
			return s.persist.SetComment(cmd.ID, cmd.Data)
		}

	case MsgCommentPosition:
		if s.persist != nil {
			return s.persist.SetCommentPosition(cmd.ID, cmd.Data)
		}

	case MsgDeleteComment:
		if s.persist != nil {
			return s.persist.DeleteComment(cmd.ID)
		}

	case MsgSystemReset:
		s.StopAll()

	case MsgMaintCompact:
		if s.persist != nil {
			return s.persist.CompactIfNeeded()
		}

	case MsgMaintGC:
		s.interp.Heap().Collect(s.Roots())

	default:
		return fmt.Errorf("sched: unknown host message type %d", cmd.Type)
	}
	return nil
}

// Bootstrap rehydrates the in-heap chunk table from the configured
// Persistence's recovered index (spec.md §4.2 "Recover the chunk table
// on startup"). Call it once, before the first RunSlice, after New. It
// does not start any tasks; the caller decides whether a fresh boot
// should also call StartAll. A nil Persistence makes this a no-op, for
// tests and for a from-scratch in-memory VM with no flash backing.
func (s *Scheduler) Bootstrap() error {
	if s.persist == nil {
		return nil
	}
	for _, id := range s.persist.ChunkIDs() {
		code, ok := s.persist.ChunkCode(id)
		if !ok {
			continue
		}
		subType, _ := s.persist.ChunkSubType(id)
		ref, err := LinkChunk(s.interp.Heap(), code)
		if err != nil {
			return fmt.Errorf("sched: bootstrap chunk %d: %w", id, err)
		}
		s.chunks.Set(id, ChunkType(subType), ref)
	}
	return nil
}
