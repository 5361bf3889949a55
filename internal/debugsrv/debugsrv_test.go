// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package debugsrv

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/microblocks-fw/vm/internal/sched"
)

type fakeScheduler struct {
	tasks []sched.TaskSnapshot
}

func (f *fakeScheduler) Snapshot() []sched.TaskSnapshot { return f.tasks }

type fakeHeap struct {
	free, capacity, collections int
}

func (f *fakeHeap) FreeWords() int       { return f.free }
func (f *fakeHeap) Capacity() int        { return f.capacity }
func (f *fakeHeap) CollectionCount() int { return f.collections }

type fakeStore struct {
	cycle uint32
	half  int
}

func (f *fakeStore) Cycle() uint32   { return f.cycle }
func (f *fakeStore) ActiveHalf() int { return f.half }

func TestHealthzHealthyWhenHeapHasFreeWords(t *testing.T) {
	s := New(Config{Heap: &fakeHeap{free: 10, capacity: 100}})
	rw := httptest.NewRecorder()
	s.router.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rw.Code)
	require.Equal(t, "Healthy", rw.Body.String())
}

func TestHealthzUnhealthyWhenHeapIsFull(t *testing.T) {
	s := New(Config{Heap: &fakeHeap{free: 0, capacity: 100}})
	rw := httptest.NewRecorder()
	s.router.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rw.Code)
	require.Equal(t, "Unhealthy", rw.Body.String())
}

func TestDebugTasksReturnsSnapshot(t *testing.T) {
	fs := &fakeScheduler{tasks: []sched.TaskSnapshot{{Slot: 2, Status: "runnable", HatChunkIndex: 5}}}
	s := New(Config{Scheduler: fs})
	rw := httptest.NewRecorder()
	s.router.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/debug/tasks", nil))
	require.Equal(t, http.StatusOK, rw.Code)

	var got []sched.TaskSnapshot
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &got))
	require.Equal(t, fs.tasks, got)
}

func TestDebugHeapReturnsOccupancy(t *testing.T) {
	s := New(Config{Heap: &fakeHeap{free: 40, capacity: 100, collections: 3}})
	rw := httptest.NewRecorder()
	s.router.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/debug/heap", nil))

	var got map[string]float64
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &got))
	require.Equal(t, float64(100), got["capacityWords"])
	require.Equal(t, float64(40), got["freeWords"])
	require.Equal(t, float64(3), got["collectionCount"])
}

func TestDebugStoreReturnsCycleAndHalf(t *testing.T) {
	s := New(Config{Store: &fakeStore{cycle: 7, half: 1}})
	rw := httptest.NewRecorder()
	s.router.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/debug/store", nil))

	var got map[string]float64
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &got))
	require.Equal(t, float64(7), got["cycle"])
	require.Equal(t, float64(1), got["activeHalf"])
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := New(Config{Heap: &fakeHeap{free: 5, capacity: 10}})
	rw := httptest.NewRecorder()
	s.router.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/debug/heap", nil)) // populates the heap gauge
	rw = httptest.NewRecorder()
	s.router.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rw.Code)
	require.Contains(t, rw.Body.String(), "microblocks_heap_free_words 5")
}
