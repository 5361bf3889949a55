// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package primitive

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/microblocks-fw/vm/internal/vm"
	"github.com/microblocks-fw/vm/pkg/log"
)

// resolveCacheSize bounds the (setName,name)->index lookup cache. A
// script links against a handful of primitive sets at a time; this is
// generous headroom rather than a tight fit.
const resolveCacheSize = 512

// Entry is one named function within a primitive set.
type Entry struct {
	Name string
	Fn   Fn
}

type set struct {
	id     int
	name   string
	byName map[string]Fn
}

// Registry is the (setName, name) -> fn resolution table of spec.md
// §4.3. Board-specific collaborator packages call AddPrimitiveSet once
// at startup; the interpreter calls Resolve the first time each
// unresolved "primitive" instruction executes (loading a chunk resolves
// nothing) and rewrites that instruction to carry the returned index, so
// every later execution of it is a single slice index instead of a map
// lookup.
type Registry struct {
	sets     map[string]*set
	resolved []Fn
	cache    *lru.Cache[string, int]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	cache, _ := lru.New[string, int](resolveCacheSize)
	return &Registry{
		sets:  make(map[string]*set),
		cache: cache,
	}
}

// AddPrimitiveSet registers setId/setName with the given entries
// (spec.md §4.3 "Registration contract"). Re-registering the same
// setName replaces its entries for later resolutions; a (setName, name)
// pair that Resolve has already returned an index for keeps that index
// and keeps calling the function it resolved to.
func (r *Registry) AddPrimitiveSet(setID int, setName string, entries []Entry) {
	s := &set{id: setID, name: setName, byName: make(map[string]Fn, len(entries))}
	for _, e := range entries {
		s.byName[e.Name] = e.Fn
	}
	r.sets[setName] = s
	log.Infof("[PRIMITIVE]> registered set %q (id=%d) with %d entries", setName, setID, len(entries))
}

// Resolve looks up (setName, name), assigning it a stable index into
// the flat call table on first resolution and returning the cached
// index on every subsequent call.
func (r *Registry) Resolve(setName, name string) (int, bool) {
	key := setName + "\x00" + name
	if idx, ok := r.cache.Get(key); ok {
		return idx, true
	}
	s, ok := r.sets[setName]
	if !ok {
		return 0, false
	}
	fn, ok := s.byName[name]
	if !ok {
		return 0, false
	}
	idx := len(r.resolved)
	r.resolved = append(r.resolved, fn)
	r.cache.Add(key, idx)
	return idx, true
}

// Call invokes the primitive at the given resolved index. index must
// have come from a prior successful Resolve; an out-of-range index is a
// bytecode-linking bug, not a recoverable runtime condition, so it
// panics rather than calling Fail on behalf of a primitive that was
// never actually found.
func (r *Registry) Call(index int, ctx Context, argCount int, args []vm.Value) vm.Value {
	if index < 0 || index >= len(r.resolved) {
		panic(fmt.Sprintf("primitive: resolved index %d out of range (table size %d)", index, len(r.resolved)))
	}
	return r.resolved[index](ctx, argCount, args)
}
