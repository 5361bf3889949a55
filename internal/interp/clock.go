// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package interp

import "time"

// Clock supplies the free-running microsecond counter the micros/millis
// opcodes and the wait* suspension logic read from (spec.md §4.5 "Timer
// semantics"). millisecs() is not a separate hardware timer on most
// targets; it is derived as micros()>>10, so the interpreter stores
// every wake time in the micros domain and never needs a second clock.
type Clock interface {
	Micros() uint32
}

// SystemClock is a free-running 32-bit microsecond counter backed by
// the monotonic wall clock, for hosted (non-embedded) runs of the VM.
// It wraps every ~71.5 minutes, same as the reference hardware counter,
// and callers must tolerate that wrap (spec.md §4.5).
type SystemClock struct {
	start time.Time
}

// NewSystemClock starts the counter at the given instant, so tests can
// control wraparound deterministically by picking a start time close to
// the 32-bit boundary instead of waiting 71 minutes for it to occur.
func NewSystemClock(start time.Time) *SystemClock {
	return &SystemClock{start: start}
}

func (c *SystemClock) Micros() uint32 {
	return uint32(time.Since(c.start).Microseconds())
}
