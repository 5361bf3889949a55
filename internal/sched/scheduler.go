// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sched is the task table and single-threaded cooperative
// scheduler of spec.md §4.5: up to 16 tasks, round-robin with a
// running cursor, one host message drained per outer iteration, and
// the whole-system root walker the collector needs. It owns no
// hardware and no wire framing — those belong to internal/interp's
// Board/OutputSink and to internal/proto respectively.
package sched

import (
	"sync"

	"github.com/microblocks-fw/vm/internal/interp"
	"github.com/microblocks-fw/vm/internal/vm"
	"github.com/microblocks-fw/vm/pkg/log"
)

// maxTasks is the fixed task table size (spec.md §4.5 "up to 16 tasks").
const maxTasks = 16

// recentMicros bounds how far past its wakeTime a waiting task may be
// found and still count as due, tolerant of the free-running 32-bit
// microsecond clock wrapping (spec.md §4.5 "Timer semantics"). Grounded
// directly on the reference scheduler's RECENT threshold.
const recentMicros = 100000

// Scheduler runs the task table: round-robin dispatch, start/stop by
// chunk index, startAll/stopAll, and inbound host-command draining.
type Scheduler struct {
	interp *interp.Interpreter
	chunks *ChunkTable
	clock  interp.Clock

	tasks  [maxTasks]*interp.Task
	cursor int

	inbox   chan HostCommand
	persist Persistence

	running *interp.Task // the task currently mid-Run, for stopAll-from-opcode bookkeeping

	// mu guards the task table against internal/debugsrv's read-only
	// Snapshot, taken from an HTTP handler goroutine rather than the
	// single goroutine that otherwise owns every Scheduler method.
	mu sync.Mutex
}

// Config groups the shared collaborators a Scheduler is built from.
type Config struct {
	Interp      *interp.Interpreter
	Chunks      *ChunkTable
	Clock       interp.Clock
	Persistence Persistence // nil is fine: storeChunk et al. then only update the in-memory table
	InboxSize   int
}

// New builds a Scheduler and wires it as the Interpreter's StopAllFn
// collaborator, so a running task's stopAll opcode reaches this task
// table without the interpreter importing this package.
func New(cfg Config) *Scheduler {
	inboxSize := cfg.InboxSize
	if inboxSize <= 0 {
		inboxSize = 64
	}
	s := &Scheduler{
		interp:  cfg.Interp,
		chunks:  cfg.Chunks,
		clock:   cfg.Clock,
		inbox:   make(chan HostCommand, inboxSize),
		persist: cfg.Persistence,
	}
	for i := range s.tasks {
		s.tasks[i] = &interp.Task{Status: interp.Unused}
	}
	cfg.Interp.StopAllFn = s.stopAllExceptRunning
	return s
}

// Roots builds the whole-system vm.RootWalker the collector needs:
// globals, the chunk table, and every task's live stack plus its
// currently executing chunk reference (spec.md §3.4).
func (s *Scheduler) Roots() vm.RootWalker {
	return func(visit func(old vm.Value) (new vm.Value)) {
		s.interp.WalkGlobals(visit)
		s.chunks.WalkCode(visit)
		for _, t := range s.tasks {
			if t.Status == interp.Unused {
				continue
			}
			t.WalkStack(visit)
			t.Code = visit(t.Code)
		}
	}
}

// Enqueue posts a host command for the next RunSlice to drain. It never
// blocks; a full inbox drops the command and logs, the same
// backpressure posture the circular output buffer takes in the other
// direction.
func (s *Scheduler) Enqueue(cmd HostCommand) {
	select {
	case s.inbox <- cmd:
	default:
		log.Warnf("[SCHED]> inbox full, dropping host command %v", cmd.Type)
	}
}

// RunSlice performs exactly one outer scheduling iteration (spec.md
// §4.5 "Scheduling loop"): drain at most one pending host message,
// promote any waiting task whose wakeTime has arrived, then run
// exactly one runnable task to its next suspension point. It returns
// true if a task actually ran, so callers driving a tight poll loop can
// back off when the table is fully idle.
func (s *Scheduler) RunSlice() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case cmd := <-s.inbox:
		if err := s.Dispatch(cmd); err != nil {
			log.Warnf("[SCHED]> host command %v failed: %v", cmd.Type, err)
		}
	default:
	}

	now := s.clock.Micros()
	for i := 0; i < maxTasks; i++ {
		s.cursor++
		if s.cursor >= maxTasks {
			s.cursor = 0
		}
		t := s.tasks[s.cursor]
		if t.Status == interp.Waiting && due(now, t.WakeTime) {
			t.Status = interp.Runnable
		}
		if t.Status == interp.Runnable {
			s.running = t
			s.interp.Run(t, s.Roots())
			s.running = nil
			return true
		}
	}
	return false
}

// due reports whether a task waiting since wakeTime is ready to resume,
// tolerant of the microsecond clock wrapping past 2^32 (spec.md §4.5:
// "comparison is tolerant of timer wrap"). Unsigned subtraction wraps
// the same way the clock itself does, so this holds across the wrap
// boundary without any special case.
func due(now, wakeTime uint32) bool {
	return now-wakeTime < recentMicros
}

// StartTaskForChunk starts hatChunkIndex if no task is already running
// it, in the first free table slot. It is a no-op, not an error, if the
// table is full or the chunk is already running — matching the
// reference runtime's startTaskForChunk.
func (s *Scheduler) StartTaskForChunk(chunkIndex int) {
	for _, t := range s.tasks {
		if t.Status != interp.Unused && t.HatChunkIndex == chunkIndex {
			return
		}
	}
	code, ok := s.chunks.Chunk(chunkIndex)
	if !ok {
		log.Warnf("[SCHED]> startTaskForChunk: no chunk at index %d", chunkIndex)
		return
	}
	for i, t := range s.tasks {
		if t.Status == interp.Unused {
			s.tasks[i] = interp.NewTask(s.interp, chunkIndex, code)
			emit(s.interp, interp.OutMessage{Kind: interp.TaskStarted, ChunkID: byte(chunkIndex)})
			return
		}
	}
	log.Warnf("[SCHED]> startTaskForChunk: task table full, chunk %d not started", chunkIndex)
}

// StopTaskForChunk stops the task whose hatChunkIndex matches, if any,
// emitting taskDone. Effects of a partially executed primitive are not
// rolled back (spec.md §5 "Cancellation").
func (s *Scheduler) StopTaskForChunk(chunkIndex int) {
	for i, t := range s.tasks {
		if t.HatChunkIndex == chunkIndex && t.Status != interp.Unused {
			emit(s.interp, interp.OutMessage{Kind: interp.TaskDone, ChunkID: byte(chunkIndex)})
			s.tasks[i] = &interp.Task{Status: interp.Unused}
			return
		}
	}
}

// StartAll stops every task then starts one for every startHat/
// whenConditionHat chunk (spec.md §4.5).
func (s *Scheduler) StartAll() {
	s.StopAll()
	for _, id := range s.chunks.AutoStart() {
		s.StartTaskForChunk(int(id))
	}
}

// StopAll clears every active task, emitting taskDone for each (spec.md
// §5 "stopAll clears every task's status to unused and emits taskDone
// for each previously active task").
func (s *Scheduler) StopAll() {
	for i, t := range s.tasks {
		if t.Status != interp.Unused {
			emit(s.interp, interp.OutMessage{Kind: interp.TaskDone, ChunkID: byte(t.HatChunkIndex)})
		}
		s.tasks[i] = &interp.Task{Status: interp.Unused}
	}
}

// stopAllExceptRunning backs the stopAll opcode (spec.md §5 B4: "stopAll
// issued during a running task terminates it before the next
// instruction of any task runs"). The opcode handler itself retires the
// calling task and emits its own taskDone once Run returns, so this
// only has to clear everyone else — emitting it twice would desync the
// host's task-done bookkeeping.
func (s *Scheduler) stopAllExceptRunning() {
	for i, t := range s.tasks {
		if t == s.running {
			continue
		}
		if t.Status != interp.Unused {
			emit(s.interp, interp.OutMessage{Kind: interp.TaskDone, ChunkID: byte(t.HatChunkIndex)})
		}
		s.tasks[i] = &interp.Task{Status: interp.Unused}
	}
}

// TaskSnapshot is a read-only, point-in-time copy of one task table row,
// for internal/debugsrv to render without exposing the live *interp.Task
// (whose Stack array a concurrent RunSlice could mutate mid-read).
type TaskSnapshot struct {
	Slot              int
	Status            string
	HatChunkIndex     int
	CurrentChunkIndex int
	WakeTime          uint32
}

// Snapshot copies the current task table under lock. Safe to call from
// any goroutine, including a debug HTTP handler running concurrently
// with RunSlice.
func (s *Scheduler) Snapshot() []TaskSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskSnapshot, 0, maxTasks)
	for i, t := range s.tasks {
		if t.Status == interp.Unused {
			continue
		}
		out = append(out, TaskSnapshot{
			Slot:              i,
			Status:            t.Status.String(),
			HatChunkIndex:     t.HatChunkIndex,
			CurrentChunkIndex: t.CurrentChunkIndex,
			WakeTime:          t.WakeTime,
		})
	}
	return out
}

// emit is a tiny adapter so scheduler.go and hostcmd.go share one call
// site for posting an OutMessage through the Interpreter's output sink,
// without Scheduler needing to hold its own copy of the sink.
func emit(in *interp.Interpreter, msg interp.OutMessage) {
	in.Emit(msg)
}
