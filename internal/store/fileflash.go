// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"fmt"
	"os"
)

// FileFlash is a host-filesystem-backed Flash: a fixed-size image file
// standing in for the board's actual NOR flash chip, so a process
// restart on a development machine sees the same code store a real
// device's flash would survive a power cycle with. It keeps the whole
// image mapped in memory and rewrites the file on every mutation,
// the same "whole file is the unit of durability" posture the
// teacher's own sqlite/job-archive files use rather than anything
// fancier like mmap or an intent log.
type FileFlash struct {
	path  string
	words []uint32
}

// OpenFileFlash opens path, creating and erasing a new sizeBytes image
// if it does not exist yet. An existing file must already be sizeBytes
// long; this is deliberately strict; resizing a live flash image is not
// a supported migration path (spec.md has no half-space resize
// operation).
func OpenFileFlash(path string, sizeBytes uint32) (*FileFlash, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("store: open flash image %s: %w", path, err)
		}
		f := &FileFlash{path: path, words: make([]uint32, sizeBytes/4)}
		for i := range f.words {
			f.words[i] = erasedWord
		}
		if err := f.sync(); err != nil {
			return nil, err
		}
		return f, nil
	}

	if uint32(len(raw)) != sizeBytes {
		return nil, fmt.Errorf("store: flash image %s is %d bytes, want %d", path, len(raw), sizeBytes)
	}
	words := make([]uint32, sizeBytes/4)
	for i := range words {
		words[i] = bytesToWord(raw[i*4 : i*4+4])
	}
	return &FileFlash{path: path, words: words}, nil
}

func bytesToWord(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func wordToBytes(w uint32) [4]byte {
	return [4]byte{byte(w), byte(w >> 8), byte(w >> 16), byte(w >> 24)}
}

func (f *FileFlash) sync() error {
	raw := make([]byte, len(f.words)*4)
	for i, w := range f.words {
		b := wordToBytes(w)
		copy(raw[i*4:i*4+4], b[:])
	}
	return os.WriteFile(f.path, raw, 0o644)
}

func (f *FileFlash) Size() uint32 { return uint32(len(f.words)) * 4 }

func (f *FileFlash) Erase(addr, length uint32) error {
	if addr%4 != 0 || length%4 != 0 {
		return fmt.Errorf("store: erase range must be word-aligned (addr=%d length=%d)", addr, length)
	}
	start, end := addr/4, (addr+length)/4
	if end > uint32(len(f.words)) {
		return fmt.Errorf("store: erase range out of bounds")
	}
	for i := start; i < end; i++ {
		f.words[i] = erasedWord
	}
	return f.sync()
}

func (f *FileFlash) WriteWord(addr uint32, word uint32) error {
	if addr%4 != 0 {
		return fmt.Errorf("store: unaligned write at %d", addr)
	}
	idx := addr / 4
	if idx >= uint32(len(f.words)) {
		return fmt.Errorf("store: write out of bounds at %d", addr)
	}
	f.words[idx] &= word
	return f.sync()
}

func (f *FileFlash) ReadWord(addr uint32) (uint32, error) {
	if addr%4 != 0 {
		return 0, fmt.Errorf("store: unaligned read at %d", addr)
	}
	idx := addr / 4
	if idx >= uint32(len(f.words)) {
		return 0, fmt.Errorf("store: read out of bounds at %d", addr)
	}
	return f.words[idx], nil
}
