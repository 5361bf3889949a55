// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/microblocks-fw/vm/pkg/log"
)

// indexCacheSize bounds the chunk/variable address caches. The id space
// is one byte (spec.md §3.5: "indexed 0...255"), so a 256-entry LRU never
// actually evicts in practice — it simply costs nothing to make the
// eviction path real today against a day when the id field widens.
const indexCacheSize = 256

// Store is the persistent code store of spec.md §4.2: two half-spaces,
// one active, newest-wins record log, compaction on overflow.
type Store struct {
	flash         Flash
	halfSpaceSize uint32
	eraseUnit     uint32

	activeBase uint32
	freePtr    uint32
	cycle      uint32

	chunkAddr   *lru.Cache[byte, uint32] // chunkCode record address, by chunk id
	chunkSub    map[byte]byte            // chunk sub-type (extra of the chunkCode record)
	chunkPos    map[byte][]byte
	chunkAttr   map[byte]map[byte][]byte
	chunkSrc    map[byte][]byte
	varAddr     *lru.Cache[byte, uint32] // varValue record address, by variable id
	varNames    map[byte][]byte
	commentPos  map[byte][]byte
	commentText map[byte][]byte
}

// Options configures the flash geometry. Neither field has a compiled-in
// production default (spec.md §9 Open Question: page size and
// half-space size are left as store parameters); internal/config
// supplies real values, validated so HalfSpaceSize is a multiple of
// EraseUnit.
type Options struct {
	HalfSpaceSize uint32
	EraseUnit     uint32
}

func (o Options) validate() error {
	if o.HalfSpaceSize == 0 || o.EraseUnit == 0 {
		return fmt.Errorf("store: half-space size and erase unit must be non-zero")
	}
	if o.HalfSpaceSize%o.EraseUnit != 0 {
		return fmt.Errorf("store: half-space size %d is not a multiple of erase unit %d", o.HalfSpaceSize, o.EraseUnit)
	}
	return nil
}

// Open rehydrates a Store from flash, erasing both halves on a genuine
// first boot (spec.md §4.2 "Startup").
func Open(flash Flash, opts Options) (*Store, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if flash.Size() < 2*opts.HalfSpaceSize {
		return nil, fmt.Errorf("store: flash size %d too small for two %d-byte half-spaces", flash.Size(), opts.HalfSpaceSize)
	}

	s := &Store{flash: flash, halfSpaceSize: opts.HalfSpaceSize, eraseUnit: opts.EraseUnit}
	s.resetIndexes()

	word0, err := flash.ReadWord(0)
	if err != nil {
		return nil, err
	}
	word1, err := flash.ReadWord(opts.HalfSpaceSize)
	if err != nil {
		return nil, err
	}
	marker0, cycle0, ok0 := unpackHalfSpaceHeader(word0)
	marker1, cycle1, ok1 := unpackHalfSpaceHeader(word1)
	_ = marker0
	_ = marker1

	if !ok0 && !ok1 {
		log.Notef("[STORE]> first boot: erasing both half-spaces (%d bytes each)", opts.HalfSpaceSize)
		if err := flash.Erase(0, opts.HalfSpaceSize); err != nil {
			return nil, err
		}
		if err := flash.Erase(opts.HalfSpaceSize, opts.HalfSpaceSize); err != nil {
			return nil, err
		}
		if err := flash.WriteWord(0, packHalfSpaceHeader(0)); err != nil {
			return nil, err
		}
		s.activeBase = 0
		s.cycle = 0
		s.freePtr = 4
		return s, nil
	}

	switch {
	case ok0 && (!ok1 || cycle0 >= cycle1):
		s.activeBase, s.cycle = 0, cycle0
	case ok1:
		s.activeBase, s.cycle = opts.HalfSpaceSize, cycle1
	}

	records, freePtr, err := scanHalf(flash, s.activeBase, s.activeBase+opts.HalfSpaceSize)
	if err != nil {
		return nil, err
	}
	s.freePtr = freePtr
	if err := s.rehydrate(records); err != nil {
		return nil, err
	}
	log.Infof("[STORE]> rehydrated from half=%d cycle=%d free=%d chunks=%d vars=%d",
		s.activeBase/opts.HalfSpaceSize, s.cycle, s.freePtr, s.chunkAddr.Len(), s.varAddr.Len())
	return s, nil
}

func (s *Store) resetIndexes() {
	s.chunkAddr, _ = lru.New[byte, uint32](indexCacheSize)
	s.varAddr, _ = lru.New[byte, uint32](indexCacheSize)
	s.chunkSub = make(map[byte]byte)
	s.chunkPos = make(map[byte][]byte)
	s.chunkAttr = make(map[byte]map[byte][]byte)
	s.chunkSrc = make(map[byte][]byte)
	s.varNames = make(map[byte][]byte)
	s.commentPos = make(map[byte][]byte)
	s.commentText = make(map[byte][]byte)
}

// scanHalf decodes every record from base+4 to the first erased word or
// bad record, per spec.md §4.2's "bad record / all-ones" stop condition.
func scanHalf(flash Flash, base, limit uint32) ([]record, uint32, error) {
	var records []record
	addr := base + 4
	for addr < limit {
		rec, next, ok, err := readRecord(flash, addr, limit)
		if err != nil {
			log.Warnf("[STORE]> bad record at %d during scan, stopping: %v", addr, err)
			break
		}
		if !ok {
			break
		}
		records = append(records, rec)
		addr = next
	}
	return records, addr, nil
}

// rehydrate rebuilds the in-memory indexes from a newest-to-oldest scan
// of the active half's records (spec.md §4.2/§4.5 "Startup"). The three
// record families (chunk, variable, comment) are independent of each
// other, so they're folded concurrently with errgroup rather than in
// three sequential passes over the same slice.
func (s *Store) rehydrate(records []record) error {
	var g errgroup.Group

	g.Go(func() error {
		deleted := make(map[byte]bool)
		for i := len(records) - 1; i >= 0; i-- {
			r := records[i]
			if r.recType.family() != 'c' {
				continue
			}
			if r.recType == chunkDeleted {
				deleted[r.id] = true
				continue
			}
			if deleted[r.id] {
				continue
			}
			switch r.recType {
			case chunkCode:
				if _, seen := s.chunkAddr.Peek(r.id); !seen {
					s.chunkAddr.Add(r.id, r.addr)
					s.chunkSub[r.id] = r.extra
				}
			case chunkPosition:
				if _, seen := s.chunkPos[r.id]; !seen {
					s.chunkPos[r.id] = r.data
				}
			case chunkAttribute:
				if s.chunkAttr[r.id] == nil {
					s.chunkAttr[r.id] = make(map[byte][]byte)
				}
				if _, seen := s.chunkAttr[r.id][r.extra]; !seen {
					s.chunkAttr[r.id][r.extra] = r.data
				}
			case chunkSource:
				if _, seen := s.chunkSrc[r.id]; !seen {
					s.chunkSrc[r.id] = r.data
				}
			}
		}
		return nil
	})

	g.Go(func() error {
		deleted := make(map[byte]bool)
		for i := len(records) - 1; i >= 0; i-- {
			r := records[i]
			if r.recType.family() != 'v' {
				continue
			}
			if r.recType == varDeleted {
				deleted[r.id] = true
				continue
			}
			if deleted[r.id] {
				continue
			}
			switch r.recType {
			case varValue:
				if _, seen := s.varAddr.Peek(r.id); !seen {
					s.varAddr.Add(r.id, r.addr)
				}
			case varName:
				if _, seen := s.varNames[r.id]; !seen {
					s.varNames[r.id] = r.data
				}
			}
		}
		return nil
	})

	g.Go(func() error {
		deleted := make(map[byte]bool)
		for i := len(records) - 1; i >= 0; i-- {
			r := records[i]
			if r.recType.family() != 'm' {
				continue
			}
			if r.recType == commentDeleted {
				deleted[r.id] = true
				continue
			}
			if deleted[r.id] {
				continue
			}
			switch r.recType {
			case comment:
				if _, seen := s.commentText[r.id]; !seen {
					s.commentText[r.id] = r.data
				}
			case commentPosition:
				if _, seen := s.commentPos[r.id]; !seen {
					s.commentPos[r.id] = r.data
				}
			}
		}
		return nil
	})

	return g.Wait()
}
