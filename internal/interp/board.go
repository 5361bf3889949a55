// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package interp

import "github.com/microblocks-fw/vm/internal/vm"

// Board is the narrow interface the dedicated pin-I/O and I2C opcodes
// call through (spec.md §4.4's "pin I/O"/"misc" opcode categories are
// fixed opcodes, not routed through the primitive registry, but the
// actual GPIO/I2C access is still board-specific and out of this
// module's scope per spec.md's Non-goals). A collaborator package
// supplies a concrete Board; NullBoard is the zero-hardware default
// used by hosted runs and tests.
type Board interface {
	AnalogRead(pin int) (int, vm.ErrorCode)
	AnalogWrite(pin int, value int) vm.ErrorCode
	DigitalRead(pin int) (bool, vm.ErrorCode)
	DigitalWrite(pin int, value bool) vm.ErrorCode
	SetLED(on bool) vm.ErrorCode
	AnalogPinCount() int
	DigitalPinCount() int
	I2CGet(deviceID, registerID int) (int, vm.ErrorCode)
	I2CSet(deviceID, registerID, value int) vm.ErrorCode
}

// NullBoard reports every pin op as unimplemented and no pins present.
// It lets the interpreter run (and be tested) on hosts with no real
// GPIO attached.
type NullBoard struct{}

func (NullBoard) AnalogRead(int) (int, vm.ErrorCode)  { return 0, vm.PrimitiveNotImplemented }
func (NullBoard) AnalogWrite(int, int) vm.ErrorCode   { return vm.PrimitiveNotImplemented }
func (NullBoard) DigitalRead(int) (bool, vm.ErrorCode) { return false, vm.PrimitiveNotImplemented }
func (NullBoard) DigitalWrite(int, bool) vm.ErrorCode  { return vm.PrimitiveNotImplemented }
func (NullBoard) SetLED(bool) vm.ErrorCode             { return vm.PrimitiveNotImplemented }
func (NullBoard) AnalogPinCount() int                  { return 0 }
func (NullBoard) DigitalPinCount() int                 { return 0 }
func (NullBoard) I2CGet(int, int) (int, vm.ErrorCode)  { return 0, vm.PrimitiveNotImplemented }
func (NullBoard) I2CSet(int, int, int) vm.ErrorCode    { return vm.PrimitiveNotImplemented }
