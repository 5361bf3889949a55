// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vm

// ErrorCode is the closed set of error values a task's error slot can hold
// (spec.md §6, "Error codes"). It is carried as data, not as a Go error:
// the interpreter checks a task's error slot after every opcode that can
// fail rather than propagating a Go error up a call stack.
type ErrorCode byte

const (
	NoError ErrorCode = iota
	UnspecifiedError
	BadChunkIndex
	InsufficientMemory
	DivideByZero
	NeedsNonNegative
	NeedsInteger
	Needs0to255Int
	NeedsArray
	IndexOutOfRange
	NeedsBoolean
	NonComparable
	NeedsString
	IntOutOfRange
	Needs8BitInt
	ByteArrayStore
	HexRange
	JoinArgsNotSameType
	NeedsIntegerIndex
	NeedsListOfIntegers
	InvalidUnicode
	ByteOutOfRange
	EncoderNotStarted
	NoWiFi
	WifiNotConnected
	CannotUseWithBLE
	I2CDeviceIDOutOfRange
	I2CRegisterIDOutOfRange
	I2CValueOutOfRange
	I2CTransferFailed
	PrimitiveNotImplemented
)

var errorCodeNames = [...]string{
	NoError:                 "noError",
	UnspecifiedError:        "unspecifiedError",
	BadChunkIndex:           "badChunkIndex",
	InsufficientMemory:      "insufficientMemory",
	DivideByZero:            "divideByZero",
	NeedsNonNegative:        "needsNonNegative",
	NeedsInteger:            "needsInteger",
	Needs0to255Int:          "needs0to255Int",
	NeedsArray:              "needsArray",
	IndexOutOfRange:         "indexOutOfRange",
	NeedsBoolean:            "needsBoolean",
	NonComparable:           "nonComparable",
	NeedsString:             "needsString",
	IntOutOfRange:           "intOutOfRange",
	Needs8BitInt:            "needs8BitInt",
	ByteArrayStore:          "byteArrayStore",
	HexRange:                "hexRange",
	JoinArgsNotSameType:     "joinArgsNotSameType",
	NeedsIntegerIndex:       "needsIntegerIndex",
	NeedsListOfIntegers:     "needsListOfIntegers",
	InvalidUnicode:          "invalidUnicode",
	ByteOutOfRange:          "byteOutOfRange",
	EncoderNotStarted:       "encoderNotStarted",
	NoWiFi:                  "noWiFi",
	WifiNotConnected:        "wifiNotConnected",
	CannotUseWithBLE:        "cannotUseWithBLE",
	I2CDeviceIDOutOfRange:   "i2cDeviceIDOutOfRange",
	I2CRegisterIDOutOfRange: "i2cRegisterIDOutOfRange",
	I2CValueOutOfRange:      "i2cValueOutOfRange",
	I2CTransferFailed:       "i2cTransferFailed",
	PrimitiveNotImplemented: "primitiveNotImplemented",
}

func (e ErrorCode) String() string {
	if int(e) < len(errorCodeNames) && errorCodeNames[e] != "" {
		return errorCodeNames[e]
	}
	return "unspecifiedError"
}

// OutOfMemoryError is returned by allocation calls when the heap cannot satisfy
// a request even after a collection pass (or immediately, when the
// collector is disabled). Callers translate this into InsufficientMemory
// on the current task; vm itself holds no notion of "task".
type OutOfMemoryError struct {
	Requested int
}

func (e *OutOfMemoryError) Error() string {
	return "vm: out of memory"
}
