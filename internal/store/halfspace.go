// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import "encoding/binary"

// writeRecord appends one record at addr (the address of its header
// word) and returns the address just past it, i.e. the next free
// address. The caller is responsible for having already confirmed the
// record fits before the half-space boundary.
func writeRecord(flash Flash, addr uint32, recType recordType, id, extra byte, data []byte) (uint32, error) {
	if err := flash.WriteWord(addr, packRecordHeader(recType, id, extra)); err != nil {
		return 0, err
	}
	wordCount := wordsForBytes(len(data))
	if err := flash.WriteWord(addr+4, uint32(wordCount)); err != nil {
		return 0, err
	}
	base := addr + 8
	for i := 0; i < wordCount; i++ {
		var w uint32
		off := i * 4
		rem := len(data) - off
		if rem >= 4 {
			w = binary.LittleEndian.Uint32(data[off : off+4])
		} else {
			var buf [4]byte
			copy(buf[:rem], data[off:])
			w = binary.LittleEndian.Uint32(buf[:])
		}
		if err := flash.WriteWord(base+uint32(i*4), w); err != nil {
			return 0, err
		}
	}
	return base + uint32(wordCount*4), nil
}

// recordSize returns the total bytes a record of the given data length
// occupies on flash: two header words plus the payload words.
func recordSize(dataLen int) uint32 {
	return 8 + uint32(wordsForBytes(dataLen)*4)
}

// readRecord decodes the record whose header word is at addr. ok is
// false (with no error) when addr holds the erased pattern, meaning the
// log ends here; err is non-nil when the bytes present are neither a
// valid record header nor the erased pattern (a "bad record", per
// spec.md §4.2's startup scan).
func readRecord(flash Flash, addr uint32, limit uint32) (rec record, nextAddr uint32, ok bool, err error) {
	word0, err := flash.ReadWord(addr)
	if err != nil {
		return record{}, 0, false, err
	}
	if word0 == erasedWord {
		return record{}, 0, false, nil
	}
	marker, recType, id, extra := unpackRecordHeader(word0)
	if marker != recordMarker {
		return record{}, 0, false, errBadRecord{addr: addr}
	}
	if addr+4 >= limit {
		return record{}, 0, false, errBadRecord{addr: addr}
	}
	word1, err := flash.ReadWord(addr + 4)
	if err != nil {
		return record{}, 0, false, err
	}
	wordCount := word1
	dataBase := addr + 8
	dataEnd := dataBase + wordCount*4
	if dataEnd > limit || wordCount > maxRecordWords {
		return record{}, 0, false, errBadRecord{addr: addr}
	}
	data := make([]byte, wordCount*4)
	for i := uint32(0); i < wordCount; i++ {
		w, err := flash.ReadWord(dataBase + i*4)
		if err != nil {
			return record{}, 0, false, err
		}
		binary.LittleEndian.PutUint32(data[i*4:i*4+4], w)
	}
	rec = record{addr: addr, recType: recType, id: id, extra: extra, data: data}
	return rec, dataEnd, true, nil
}

// maxRecordWords is a sanity bound on a single record's payload, well
// above the largest bytecode chunk or comment body the IDE will ever
// send, guarding the scanner against treating random garbage as a
// record with an implausible length.
const maxRecordWords = 1 << 16

type errBadRecord struct{ addr uint32 }

func (e errBadRecord) Error() string {
	return "store: bad record encountered during scan"
}
