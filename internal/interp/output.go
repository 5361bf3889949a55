// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package interp

import "github.com/microblocks-fw/vm/internal/vm"

// OutKind identifies which VM->host message an OutMessage carries
// (spec.md §4.5 "VM -> host messages"). taskStarted..outputValue keep
// the wire byte values the reference runtime's interp.h assigns them
// (16-20); versionMsg and argValueMsg are later additions placed at
// 30-31 so they cannot collide with internal/sched's HostMsgType wire
// values in the 21-29 range.
type OutKind byte

const (
	TaskStarted       OutKind = 16
	TaskDone          OutKind = 17
	TaskReturnedValue OutKind = 18
	TaskError         OutKind = 19
	OutputValueMsg    OutKind = 20
	VersionMsg        OutKind = 30
	ArgValueMsg       OutKind = 31
)

// OutMessage is a VM->host event, handed to an OutputSink for framing
// and transport. The interpreter builds these without knowing the wire
// format; internal/proto owns the byte-level encoding.
type OutMessage struct {
	Kind          OutKind
	ChunkID       byte
	Value         vm.Value
	ValueType     vm.ValueType
	Text          string
	ErrorCode     vm.ErrorCode
	ErrorLocation uint32 // (ip<<8) | chunkId, per spec.md §7
}

// OutputSink is the circular output buffer the scheduler's host
// protocol layer implements (spec.md §4.5 "Buffering"). TryEmit reports
// false when there is not enough room; the interpreter responds to a
// false return from printIt/sayIt by backing its instruction pointer up
// by one and yielding, so the task retries the same instruction once
// space frees up. A nil sink always succeeds and never backpressures,
// which is how tests run the interpreter without a protocol layer.
type OutputSink interface {
	TryEmit(OutMessage) bool
}

func emit(sink OutputSink, msg OutMessage) bool {
	if sink == nil {
		return true
	}
	return sink.TryEmit(msg)
}
