// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package interp implements the bytecode interpreter: instruction
// decode, the per-task stack machine, the call convention, and the
// suspension points that hand control back to a cooperative scheduler.
// It knows nothing about the task table, flash persistence, or the wire
// protocol to the host IDE — internal/sched owns those and drives a
// Task through Interpreter.Run one slice at a time.
package interp
