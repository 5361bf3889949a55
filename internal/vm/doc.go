// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package vm implements the tagged-value object memory that backs the
// interpreter: 32-bit value encoding, heap object headers, a bump
// allocator and an optional mark-sweep-compact collector, and the
// List/ByteArray/String/Array primitive operations built on top of it.
//
// There is no heap-object trait with dynamic dispatch here; every
// operation switches on the header's 4-bit type tag directly, the way
// the reference implementation does.
package vm
