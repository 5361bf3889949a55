// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package proto

import (
	"encoding/binary"
	"time"
)

// Decoder reassembles host->VM frames out of a byte stream delivered in
// arbitrary-sized chunks (spec.md §4.5 "the VM treats [serial and/or
// BLE] as one abstract duplex channel"). It never blocks and never
// returns an error: a bad header is resynchronized by scanning forward
// for the next legal start byte, per spec.md B6.
type Decoder struct {
	buf      []byte
	lastByte time.Time
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends newly arrived bytes (possibly none, to let a caller poll
// the inactivity timeout between reads) and extracts every frame that
// is now complete. now is supplied by the caller rather than read from
// the wall clock so the resync timeout is exercisable in tests.
func (d *Decoder) Feed(data []byte, now time.Time) []Frame {
	if len(data) > 0 {
		d.buf = append(d.buf, data...)
		d.lastByte = now
	} else if len(d.buf) > 0 && now.Sub(d.lastByte) > inactivityTimeout {
		// A partial frame that stalled: drop its lead byte and let the
		// scan below look for the next legal start, recovering from a
		// truncated frame without waiting forever (spec.md §4.5).
		d.buf = d.buf[1:]
		d.lastByte = now
	}

	var frames []Frame
	for {
		f, ok := d.tryExtract()
		if !ok {
			break
		}
		frames = append(frames, f)
	}
	return frames
}

// tryExtract pulls at most one complete frame off the front of the
// buffer, discarding bytes that can't start or continue a legal frame.
func (d *Decoder) tryExtract() (Frame, bool) {
	for len(d.buf) > 0 {
		switch d.buf[0] {
		case shortFrameStart:
			if len(d.buf) < 3 {
				return Frame{}, false
			}
			if !validMsgType(d.buf[1]) {
				d.buf = d.buf[1:]
				continue
			}
			f := Frame{MsgType: d.buf[1], ID: d.buf[2]}
			d.buf = d.buf[3:]
			return f, true

		case longFrameStart:
			if len(d.buf) < 5 {
				return Frame{}, false
			}
			if !validMsgType(d.buf[1]) {
				d.buf = d.buf[1:]
				continue
			}
			length := int(binary.LittleEndian.Uint16(d.buf[3:5]))
			if length == 0 {
				// length always counts the terminator byte; zero can't be legal.
				d.buf = d.buf[1:]
				continue
			}
			total := 5 + length
			if len(d.buf) < total {
				return Frame{}, false
			}
			if d.buf[total-1] != frameTerminator {
				d.buf = d.buf[1:]
				continue
			}
			body := append([]byte(nil), d.buf[5:total-1]...)
			f := Frame{MsgType: d.buf[1], ID: d.buf[2], Body: body}
			d.buf = d.buf[total:]
			return f, true

		default:
			d.buf = d.buf[1:]
		}
	}
	return Frame{}, false
}
