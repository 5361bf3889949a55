// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store implements the persistent code store: two equal
// half-spaces of flash (or a RAM-backed fake for tests), each an
// append-only log of chunk/variable/comment records, with newest-wins
// compaction into the other half when the active one fills up.
//
// The half-space header carries a magic byte and cycle count, each
// record newest-wins with a supersede-until-tombstoned replay rule, and
// compaction commits atomically by writing the destination half's header
// last.
package store
