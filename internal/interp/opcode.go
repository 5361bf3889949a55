// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package interp

import "github.com/microblocks-fw/vm/internal/vm"

// Opcode identifies the low 8 bits of an instruction word; the high 24
// bits carry an immediate argument, signed for jumps, pushImmediate and
// pushLiteral's offset, and unsigned for everything else (spec.md §4.4
// "Instruction format").
type Opcode byte

const (
	OpHalt Opcode = iota
	OpNoop
	OpPushImmediate
	OpPushBigImmediate
	OpPushLiteral

	OpPushVar
	OpPopVar
	OpIncrementVar

	OpPushArg
	OpPopArg
	OpPushLocal
	OpPopLocal
	OpIncrementLocal
	OpPushArgCount

	OpPop
	OpJmp
	OpJmpTrue
	OpJmpFalse
	OpDecrementAndJmp
	OpCallFunction
	OpReturnResult

	OpWaitMicros
	OpWaitMillis
	OpPrintIt
	OpSayIt
	OpStopAll

	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpModulo
	OpLessThan
	OpLessOrEq
	OpEqual
	OpGreaterOrEq
	OpGreaterThan
	OpNot

	OpNewArray
	OpNewByteArray
	OpFillArray
	OpAt
	OpAtPut

	OpAnalogRead
	OpAnalogWrite
	OpDigitalRead
	OpDigitalWrite
	OpSetLED
	OpAnalogPins
	OpDigitalPins

	OpMicros
	OpMillis

	OpPeek
	OpPoke

	OpHexToInt
	OpI2CGet
	OpI2CSet

	OpPrimitive

	opcodeCount
)

// instruction decodes a code word into its opcode and raw 24-bit
// argument (unsigned form; callers that need a signed jump offset use
// signExtend24).
func instruction(word vm.Value) (op Opcode, raw uint32) {
	return Opcode(byte(word)), uint32(word) >> 8
}

func signExtend24(raw uint32) int32 {
	if raw&0x00800000 != 0 {
		return int32(raw | 0xFF000000)
	}
	return int32(raw)
}

// packInstruction builds an instruction word from an opcode and a raw
// 24-bit argument, used by the primitive-dispatch self-patching path
// (see packResolvedPrimitiveArg) to rewrite a resolved instruction in place.
func packInstruction(op Opcode, raw uint32) vm.Value {
	return vm.Value(uint32(op) | (raw&0x00FFFFFF)<<8)
}
