// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package proto is the host-IDE wire protocol of spec.md §4.5/§6: a
// framed byte-oriented message format layered over whatever duplex
// channel the board offers, plus the Transport implementations that
// stand in for "serial and/or BLE" on a development machine.
package proto

import (
	"encoding/binary"
	"time"
)

const (
	shortFrameStart byte = 0xFA
	longFrameStart  byte = 0xFB
	frameTerminator byte = 0xFE

	minMsgType byte = 0x01
	maxMsgType byte = 0x20
)

// inactivityTimeout bounds how long the decoder waits for the rest of a
// long frame before giving up on it (spec.md §4.5 "Buffering": "~20 ms
// inactivity timeout to recover from truncated frames").
const inactivityTimeout = 20 * time.Millisecond

// Frame is a decoded host->VM message, one layer below sched.HostCommand:
// it knows about msgType/id/body but nothing about what they mean.
type Frame struct {
	MsgType byte
	ID      byte
	Body    []byte
}

func validMsgType(b byte) bool {
	return b >= minMsgType && b <= maxMsgType
}

// EncodeShort builds a 3-byte short frame (spec.md §4.5 "Short message").
func EncodeShort(msgType, id byte) []byte {
	return []byte{shortFrameStart, msgType, id}
}

// EncodeLong builds a 5-byte-header+body+terminator long frame (spec.md
// §4.5 "Long message"). len in the header includes the terminator byte,
// per the spec's own note.
func EncodeLong(msgType, id byte, body []byte) []byte {
	length := len(body) + 1
	out := make([]byte, 0, 5+length)
	out = append(out, longFrameStart, msgType, id)
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(length))
	out = append(out, lenBuf[:]...)
	out = append(out, body...)
	out = append(out, frameTerminator)
	return out
}
