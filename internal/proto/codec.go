// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package proto

import (
	"encoding/binary"
	"fmt"

	"github.com/microblocks-fw/vm/internal/interp"
	"github.com/microblocks-fw/vm/internal/sched"
	"github.com/microblocks-fw/vm/internal/vm"
)

// ToHostCommand turns a decoded wire Frame into the sched.HostCommand the
// scheduler's Dispatch understands. Short frames (storeChunk excepted;
// it always carries a body) map straight across; long frames unpack the
// two wire-format quirks that predate this module's frame layer:
// storeChunk's body leads with the chunk's subtype byte ahead of its
// bytecode, and chunkAttribute's body leads with the attribute id ahead
// of its data, mirroring the reference runtime's own wire layout.
func ToHostCommand(f Frame) sched.HostCommand {
	cmd := sched.HostCommand{Type: sched.HostMsgType(f.MsgType), ID: f.ID}
	if f.MsgType == byte(sched.MsgStoreChunk) && len(f.Body) > 0 {
		cmd.ChunkType = sched.ChunkType(f.Body[0])
		cmd.Data = f.Body[1:]
		return cmd
	}
	if f.MsgType == byte(sched.MsgChunkAttribute) && len(f.Body) > 0 {
		cmd.Attr = f.Body[0]
		cmd.Data = f.Body[1:]
		return cmd
	}
	cmd.Data = f.Body
	return cmd
}

// EncodeHostCommand is ToHostCommand's inverse: it re-frames a
// sched.HostCommand for the wire. Only tests call it; the VM itself only
// ever decodes host commands, never encodes them.
func EncodeHostCommand(cmd sched.HostCommand) []byte {
	switch cmd.Type {
	case sched.MsgDeleteChunk, sched.MsgStartChunk, sched.MsgStopChunk,
		sched.MsgStartAll, sched.MsgStopAll, sched.MsgDeleteAllCode,
		sched.MsgGetVersion, sched.MsgGetVar, sched.MsgDeleteVar,
		sched.MsgDeleteComment, sched.MsgSystemReset:
		return EncodeShort(byte(cmd.Type), cmd.ID)
	case sched.MsgStoreChunk:
		body := append([]byte{byte(cmd.ChunkType)}, cmd.Data...)
		return EncodeLong(byte(cmd.Type), cmd.ID, body)
	case sched.MsgChunkAttribute:
		body := append([]byte{cmd.Attr}, cmd.Data...)
		return EncodeLong(byte(cmd.Type), cmd.ID, body)
	default:
		return EncodeLong(byte(cmd.Type), cmd.ID, cmd.Data)
	}
}

// EncodeValue renders a (value, type) pair using spec.md §4.5's payload
// convention: "1=int LE 4B, 2=string, 3=boolean". Strings resolve against
// hp since a vm.Value only carries a heap reference, never its bytes. A
// value of any other heap type (array, list, byte array) has no literal
// wire encoding in the spec, so it degrades to a string holding its type
// name in angle brackets (for example "<list>") rather than an unsafe
// re-read of its payload bytes as if they were string data.
func EncodeValue(hp *vm.Heap, v vm.Value, t vm.ValueType) []byte {
	switch t {
	case vm.IntegerType:
		out := make([]byte, 5)
		out[0] = 1
		binary.LittleEndian.PutUint32(out[1:], uint32(vm.IntValue(v)))
		return out
	case vm.BooleanType:
		b := byte(0)
		if vm.BoolValue(v) {
			b = 1
		}
		return []byte{3, b}
	case vm.StringType:
		text := hp.StringBytes(v)
		out := make([]byte, 0, len(text)+1)
		out = append(out, 2)
		out = append(out, text...)
		return out
	default:
		text := fmt.Sprintf("<%s>", t)
		out := make([]byte, 0, len(text)+1)
		out = append(out, 2)
		out = append(out, text...)
		return out
	}
}

// EncodeOutMessage turns a VM->host event into its wire frame. hp
// resolves heap references in Value/Text payloads; it may be nil for
// messages that never carry one (taskStarted, taskDone).
func EncodeOutMessage(hp *vm.Heap, msg interp.OutMessage) []byte {
	switch msg.Kind {
	case interp.TaskStarted, interp.TaskDone:
		return EncodeShort(byte(msg.Kind), msg.ChunkID)

	case interp.TaskReturnedValue:
		return EncodeLong(byte(msg.Kind), msg.ChunkID, EncodeValue(hp, msg.Value, msg.ValueType))

	case interp.ArgValueMsg:
		return EncodeLong(byte(msg.Kind), msg.ChunkID, EncodeValue(hp, msg.Value, msg.ValueType))

	case interp.OutputValueMsg:
		if msg.ValueType == vm.StringType && msg.Value == vm.False {
			// OutputString (the "say"/print-a-literal path) carries its
			// text directly, with no backing heap object to resolve; a
			// real String reference is never the False sentinel.
			body := append([]byte{2}, []byte(msg.Text)...)
			return EncodeLong(byte(msg.Kind), msg.ChunkID, body)
		}
		return EncodeLong(byte(msg.Kind), msg.ChunkID, EncodeValue(hp, msg.Value, msg.ValueType))

	case interp.TaskError:
		body := make([]byte, 5)
		body[0] = byte(msg.ErrorCode)
		binary.LittleEndian.PutUint32(body[1:], msg.ErrorLocation)
		return EncodeLong(byte(msg.Kind), msg.ChunkID, body)

	case interp.VersionMsg:
		body := append([]byte{2}, []byte(msg.Text)...)
		return EncodeLong(byte(msg.Kind), 0, body)

	default:
		return EncodeLong(byte(msg.Kind), msg.ChunkID, nil)
	}
}
