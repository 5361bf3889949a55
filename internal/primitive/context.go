// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package primitive

import "github.com/microblocks-fw/vm/internal/vm"

// Context is the primitive ABI a caller (internal/sched's Task) exposes
// to a running primitive (spec.md §6 "Collaborator boundary"): the
// handful of upward helpers a collaborator is allowed to use, plus
// access to object memory for allocation.
type Context interface {
	// Heap gives a primitive allocation access; roots-aware calls need
	// RootWalker, provided by Roots.
	Heap() *vm.Heap
	// Roots returns the current root walker so a primitive that
	// allocates can safely trigger a collection.
	Roots() vm.RootWalker
	// Fail records code on the current task's error slot and returns the
	// false sentinel, per the primitive ABI's fail(code) contract.
	Fail(code vm.ErrorCode) vm.Value
	// Sleep parks the calling task for ms milliseconds; must only be
	// called by the primitive presently executing, during its own task.
	Sleep(ms int)
	// OutputString and OutputValue implement the two upward output
	// helpers primitives use for printIt/sayIt-style behavior.
	OutputString(s string)
	OutputValue(v vm.Value, chunkID byte)
}

// Fn is a primitive's signature: OBJ fn(int argCount, OBJ *args) in the
// spec's C-flavored ABI description, expressed idiomatically as a slice
// plus an explicit count (args may be longer than argCount if the
// caller reuses a scratch buffer across calls).
type Fn func(ctx Context, argCount int, args []vm.Value) vm.Value
