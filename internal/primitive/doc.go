// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package primitive implements the primitive registry: the decoupling
// point between the interpreter's core opcodes and board-specific
// collaborators (GPIO, I2C, WiFi, sensors — spec.md's "out of scope,
// called through narrow interfaces"). A collaborator registers a set of
// named functions once at startup; the interpreter's variadic
// "primitive" opcode resolves a (set name, name) pair to a numeric
// index the first time each primitive instruction executes, rewrites
// that instruction to carry the index, and calls through it from then
// on. Loading a chunk resolves nothing.
package primitive
