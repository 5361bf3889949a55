// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package interp

import "github.com/microblocks-fw/vm/internal/vm"

// The primitive opcode's 24-bit argument packs differently before and
// after it has been linked to a resolved registry index, an inline
// cache in the spirit of the literal-pool addressing pushLiteral already
// uses:
//
//	bit 23       resolved flag
//	bits 16-22   argCount (0-127)
//	bits 0-15    unresolved: signed word offset to a 2-element literal
//	             Array [setNameString, nameString], same addressing
//	             pushLiteral uses; resolved: the registry's flat index
//
// The first execution of a given instruction pays for the (setName,
// name) string lookup and rewrites its own instruction word in the heap
// so every later execution is a single Registry.Call.
const (
	primitiveResolvedBit  = 1 << 23
	primitiveArgCountMask = 0x7F
	primitiveArgCountShift = 16
	primitiveIndexMask    = 0xFFFF
)

func primitiveArgCount(raw uint32) int {
	return int((raw >> primitiveArgCountShift) & primitiveArgCountMask)
}

func primitiveIsResolved(raw uint32) bool {
	return raw&primitiveResolvedBit != 0
}

func primitiveLiteralOffset(raw uint32) int32 {
	return signExtend16(raw & primitiveIndexMask)
}

func primitiveResolvedIndex(raw uint32) int {
	return int(raw & primitiveIndexMask)
}

func packResolvedPrimitiveArg(argCount, index int) uint32 {
	return primitiveResolvedBit | uint32(argCount&primitiveArgCountMask)<<primitiveArgCountShift | uint32(index&primitiveIndexMask)
}

func signExtend16(v uint32) int32 {
	if v&0x8000 != 0 {
		return int32(v | 0xFFFF0000)
	}
	return int32(v)
}

// dispatchPrimitive resolves (on first execution) and calls the
// variadic primitive opcode (spec.md §4.3/§4.4).
func (in *Interpreter) dispatchPrimitive(t *Task, payloadIdx, ip int, raw uint32) {
	argCount := primitiveArgCount(raw)
	var index int

	if primitiveIsResolved(raw) {
		index = primitiveResolvedIndex(raw)
	} else {
		litIdx := payloadIdx + ip + int(primitiveLiteralOffset(raw))
		arr := in.heap.RefAt(litIdx)
		setNameRef, code := in.heap.ArrayAt(arr, 1)
		if code != vm.NoError {
			t.Fail(code)
			return
		}
		nameRef, code := in.heap.ArrayAt(arr, 2)
		if code != vm.NoError {
			t.Fail(code)
			return
		}
		setName := string(in.heap.StringBytes(setNameRef))
		name := string(in.heap.StringBytes(nameRef))

		resolved, ok := in.primitives.Resolve(setName, name)
		if !ok {
			t.Fail(vm.PrimitiveNotImplemented)
			return
		}
		index = resolved
		in.heap.SetWordAt(payloadIdx+ip, packInstruction(OpPrimitive, packResolvedPrimitiveArg(argCount, index)))
	}

	args := make([]vm.Value, argCount)
	for i := argCount - 1; i >= 0; i-- {
		args[i] = t.pop()
	}
	result := in.primitives.Call(index, t, argCount, args)
	t.push(result)
}
