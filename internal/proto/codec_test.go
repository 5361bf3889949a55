// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package proto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/microblocks-fw/vm/internal/interp"
	"github.com/microblocks-fw/vm/internal/sched"
	"github.com/microblocks-fw/vm/internal/vm"
)

func TestToHostCommandStoreChunkSplitsSubtypeFromBytecode(t *testing.T) {
	body := append([]byte{byte(sched.StartHat)}, []byte{1, 2, 3}...)
	f := Frame{MsgType: byte(sched.MsgStoreChunk), ID: 9, Body: body}
	cmd := ToHostCommand(f)
	require.Equal(t, sched.MsgStoreChunk, cmd.Type)
	require.Equal(t, byte(9), cmd.ID)
	require.Equal(t, sched.StartHat, cmd.ChunkType)
	require.Equal(t, []byte{1, 2, 3}, cmd.Data)
}

func TestToHostCommandChunkAttributeSplitsAttrByte(t *testing.T) {
	f := Frame{MsgType: byte(sched.MsgChunkAttribute), ID: 3, Body: []byte{7, 'h', 'i'}}
	cmd := ToHostCommand(f)
	require.Equal(t, byte(7), cmd.Attr)
	require.Equal(t, []byte("hi"), cmd.Data)
}

func TestEncodeHostCommandRoundTripsThroughDecoder(t *testing.T) {
	cmd := sched.HostCommand{Type: sched.MsgStoreChunk, ID: 4, ChunkType: sched.Reporter, Data: []byte{9, 9, 9, 9}}
	wire := EncodeHostCommand(cmd)

	d := NewDecoder()
	frames := d.Feed(wire, time.Now())
	require.Len(t, frames, 1)
	got := ToHostCommand(frames[0])
	require.Equal(t, cmd, got)
}

func TestEncodeValueInteger(t *testing.T) {
	out := EncodeValue(nil, vm.MakeInt(-5), vm.IntegerType)
	require.Equal(t, byte(1), out[0])
	require.Equal(t, int32(-5), int32(uint32(out[1])|uint32(out[2])<<8|uint32(out[3])<<16|uint32(out[4])<<24))
}

func TestEncodeValueBoolean(t *testing.T) {
	require.Equal(t, []byte{3, 1}, EncodeValue(nil, vm.True, vm.BooleanType))
	require.Equal(t, []byte{3, 0}, EncodeValue(nil, vm.False, vm.BooleanType))
}

func TestEncodeValueString(t *testing.T) {
	hp := vm.NewHeap(64, false)
	ref, err := hp.NewString([]byte("hi"), nil)
	require.NoError(t, err)
	require.Equal(t, append([]byte{2}, "hi"...), EncodeValue(hp, ref, vm.StringType))
}

func TestEncodeOutMessageTaskStartedIsShort(t *testing.T) {
	out := EncodeOutMessage(nil, interp.OutMessage{Kind: interp.TaskStarted, ChunkID: 2})
	require.Equal(t, []byte{shortFrameStart, byte(interp.TaskStarted), 2}, out)
}

func TestEncodeOutMessageOutputStringUsesTextDirectly(t *testing.T) {
	msg := interp.OutMessage{Kind: interp.OutputValueMsg, ChunkID: 1, ValueType: vm.StringType, Text: "hi"}
	out := EncodeOutMessage(nil, msg)
	d := NewDecoder()
	frames := d.Feed(out, time.Now())
	require.Len(t, frames, 1)
	require.Equal(t, append([]byte{2}, "hi"...), frames[0].Body)
}
