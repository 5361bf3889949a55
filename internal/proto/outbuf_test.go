// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package proto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/microblocks-fw/vm/internal/interp"
)

func TestOutputBufferRoundsCapacityToPowerOfTwo(t *testing.T) {
	b := NewOutputBuffer(nil, 100)
	require.Equal(t, 128, len(b.ring))
}

func TestOutputBufferEmitThenDrainPreservesOrder(t *testing.T) {
	b := NewOutputBuffer(nil, 16)
	require.True(t, b.TryEmit(interp.OutMessage{Kind: interp.TaskStarted, ChunkID: 1}))
	require.True(t, b.TryEmit(interp.OutMessage{Kind: interp.TaskDone, ChunkID: 2}))

	out := b.Drain(100)
	require.Equal(t, append(EncodeShort(byte(interp.TaskStarted), 1), EncodeShort(byte(interp.TaskDone), 2)...), out)
	require.Equal(t, 0, b.Len())
}

func TestOutputBufferTryEmitFailsWhenFull(t *testing.T) {
	b := NewOutputBuffer(nil, 4)
	ok := b.TryEmit(interp.OutMessage{Kind: interp.TaskStarted, ChunkID: 1}) // 3 bytes, fits
	require.True(t, ok)
	ok = b.TryEmit(interp.OutMessage{Kind: interp.TaskDone, ChunkID: 2}) // 3 more bytes, buffer is only 4
	require.False(t, ok, "opcodes emitting into a full buffer must back off and retry, not lose data")
}

func TestOutputBufferWrapsAroundRing(t *testing.T) {
	b := NewOutputBuffer(nil, 4)
	require.True(t, b.TryEmit(interp.OutMessage{Kind: interp.TaskStarted, ChunkID: 1}))
	require.Equal(t, []byte{shortFrameStart, byte(interp.TaskStarted), 1}, b.Drain(3))
	require.True(t, b.TryEmit(interp.OutMessage{Kind: interp.TaskDone, ChunkID: 9}))
	require.Equal(t, []byte{shortFrameStart, byte(interp.TaskDone), 9}, b.Drain(3))
}
