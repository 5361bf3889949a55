// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package interp

import (
	"strconv"

	"github.com/microblocks-fw/vm/internal/primitive"
	"github.com/microblocks-fw/vm/internal/vm"
	"github.com/microblocks-fw/vm/pkg/log"
)

// ChunkProvider resolves a chunk index to its compiled code, letting the
// interpreter follow a callFunction without importing internal/store or
// internal/sched, which own the chunk table and its flash backing.
type ChunkProvider interface {
	Chunk(chunkIndex int) (vm.Value, bool)
}

// Interpreter runs one task at a time to its next suspension point
// (spec.md §4.4/§5 "single-threaded cooperative... exactly one task
// executes at a time"). It holds the shared, cross-task resources: the
// object heap, the global variable array, the primitive registry, the
// chunk table, the clock, the board, and the host output sink.
type Interpreter struct {
	heap       *vm.Heap
	globals    []vm.Value
	primitives *primitive.Registry
	chunks     ChunkProvider
	clock      Clock
	board      Board
	output     OutputSink
	rng        uint32 // xorshift state for the "random" string-index sentinel

	// StopAllFn, when set, is invoked by a running task's stopAll opcode
	// so the scheduler can clear every other task in the table; the
	// interpreter itself only knows about the one task it is running.
	StopAllFn func()
}

// Config groups the shared resources an Interpreter is built from.
type Config struct {
	Heap        *vm.Heap
	GlobalCount int
	Primitives  *primitive.Registry
	Chunks      ChunkProvider
	Clock       Clock
	Board       Board
	Output      OutputSink
}

// New builds an Interpreter. A nil Board falls back to NullBoard so pin
// opcodes fail cleanly instead of panicking on hosts with no hardware.
func New(cfg Config) *Interpreter {
	board := cfg.Board
	if board == nil {
		board = NullBoard{}
	}
	return &Interpreter{
		heap:       cfg.Heap,
		globals:    make([]vm.Value, cfg.GlobalCount),
		primitives: cfg.Primitives,
		chunks:     cfg.Chunks,
		clock:      cfg.Clock,
		board:      board,
		output:     cfg.Output,
		rng:        0x2545F491,
	}
}

func (in *Interpreter) Heap() *vm.Heap { return in.heap }

// Emit posts a VM->host message through the configured OutputSink,
// letting the scheduler raise taskStarted/taskDone and host-command
// replies through the same sink task execution uses, without holding
// its own reference to it.
func (in *Interpreter) Emit(msg OutMessage) bool {
	return emit(in.output, msg)
}

// Global reads/SetGlobal writes one slot of the shared variable array
// (spec.md §3.4/§5 "globals... shared; mutated only by bytecode running
// on a single thread, or by the message handler which runs between task
// slices").
func (in *Interpreter) Global(idx int) vm.Value     { return in.globals[idx] }
func (in *Interpreter) SetGlobal(idx int, v vm.Value) { in.globals[idx] = v }

// WalkGlobals lets the scheduler fold the global variable array into the
// whole-system root walker it builds for the collector, without handing
// out the backing slice (and so without internal/sched needing to know
// how globals are stored).
func (in *Interpreter) WalkGlobals(visit func(old vm.Value) (new vm.Value)) {
	for i, v := range in.globals {
		in.globals[i] = visit(v)
	}
}

func (in *Interpreter) nextRandom() uint32 {
	x := in.rng
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	in.rng = x
	return x
}

// Run executes task until it reaches its next suspension point (spec.md
// §4.4 "Suspension points"): task completion, a wait* opcode, or a
// taken backward jump. roots is the whole-system root walker the
// scheduler builds for this slice (globals across all tasks, every
// task's live stack, the chunk table, the scratch slot) — the
// interpreter only ever triggers a collection from inside this one
// task's allocation calls, but the walker it hands the heap must still
// cover everyone, since objects other tasks hold live references to
// must survive.
func (in *Interpreter) Run(t *Task, roots vm.RootWalker) {
	if t.Status != Runnable {
		return
	}
	t.currentRoots = roots
	defer func() { t.currentRoots = nil }()

	for {
		payloadIdx := in.heap.PayloadIndex(t.Code)
		ip := t.IP
		word := in.heap.WordAt(payloadIdx + ip)
		op, raw := instruction(word)
		t.IP = ip + 1
		suspend := false

		switch op {
		case OpHalt:
			in.completeDone(t)
			return

		case OpNoop:
			// deliberately nothing

		case OpPushImmediate:
			t.push(vm.MakeInt(signExtend24(raw)))

		case OpPushBigImmediate:
			t.push(in.heap.WordAt(payloadIdx + t.IP))
			t.IP++

		case OpPushLiteral:
			offset := signExtend24(raw)
			litIdx := payloadIdx + ip + int(offset)
			t.push(in.heap.RefAt(litIdx))

		case OpPushVar:
			t.push(in.globalAt(t, int(raw)))
		case OpPopVar:
			in.setGlobalAt(t, int(raw), t.pop())
		case OpIncrementVar:
			delta := t.pop()
			cur := in.globalAt(t, int(raw))
			if !vm.IsInt(cur) || !vm.IsInt(delta) {
				t.Fail(vm.NeedsInteger)
				break
			}
			in.setGlobalAt(t, int(raw), vm.MakeInt(vm.IntValue(cur)+vm.IntValue(delta)))

		case OpPushArg:
			t.push(in.argAt(t, int(raw)))
		case OpPopArg:
			in.setArgAt(t, int(raw), t.pop())
		case OpPushLocal:
			t.push(t.Stack[t.FP+int(raw)])
		case OpPopLocal:
			t.Stack[t.FP+int(raw)] = t.pop()
		case OpIncrementLocal:
			delta := t.pop()
			cur := t.Stack[t.FP+int(raw)]
			if !vm.IsInt(cur) || !vm.IsInt(delta) {
				t.Fail(vm.NeedsInteger)
				break
			}
			t.Stack[t.FP+int(raw)] = vm.MakeInt(vm.IntValue(cur) + vm.IntValue(delta))
		case OpPushArgCount:
			if t.FP == 0 {
				t.push(vm.MakeInt(0))
			} else {
				t.push(t.Stack[t.FP-3])
			}

		case OpPop:
			t.pop()

		case OpJmp:
			target := ip + 1 + int(signExtend24(raw))
			t.IP = target
			if target <= ip {
				suspend = true
			}

		case OpJmpTrue:
			cond := t.pop()
			if !vm.IsBool(cond) {
				t.Fail(vm.NeedsBoolean)
				break
			}
			if vm.BoolValue(cond) {
				target := ip + 1 + int(signExtend24(raw))
				t.IP = target
				if target <= ip {
					suspend = true
				}
			}

		case OpJmpFalse:
			cond := t.pop()
			if !vm.IsBool(cond) {
				t.Fail(vm.NeedsBoolean)
				break
			}
			if !vm.BoolValue(cond) {
				target := ip + 1 + int(signExtend24(raw))
				t.IP = target
				if target <= ip {
					suspend = true
				}
			}

		case OpDecrementAndJmp:
			v := t.pop()
			if !vm.IsInt(v) {
				t.Fail(vm.NeedsInteger)
				break
			}
			n := vm.IntValue(v) - 1
			if n > 0 {
				t.push(vm.MakeInt(n))
				target := ip + 1 + int(signExtend24(raw))
				t.IP = target
				if target <= ip {
					suspend = true
				}
			}

		case OpCallFunction:
			calleeChunk := int(raw & 0xFF)
			argCount := int((raw >> 8) & 0xFF)
			localCount := int((raw >> 16) & 0xFF)
			code, ok := in.chunks.Chunk(calleeChunk)
			if !ok {
				t.Fail(vm.BadChunkIndex)
				break
			}
			t.push(vm.MakeInt(int32(argCount)))
			t.push(vm.Value(uint32(t.IP)<<8 | uint32(t.CurrentChunkIndex)))
			t.push(vm.Value(uint32(t.FP)))
			t.FP = t.SP
			for i := 0; i < localCount; i++ {
				t.push(vm.MakeInt(0))
			}
			t.CurrentChunkIndex = calleeChunk
			t.Code = code
			t.IP = 0

		case OpReturnResult:
			result := t.pop()
			if t.FP == 0 {
				in.completeReturned(t, result)
				return
			}
			argCount := int(vm.IntValue(t.Stack[t.FP-3]))
			retAddr := uint32(t.Stack[t.FP-2])
			oldFP := int(t.Stack[t.FP-1])
			base := t.FP - 3 - argCount
			t.SP = base
			t.FP = oldFP
			t.IP = int(retAddr >> 8)
			t.CurrentChunkIndex = int(retAddr & 0xFF)
			code, ok := in.chunks.Chunk(t.CurrentChunkIndex)
			if !ok {
				t.Fail(vm.BadChunkIndex)
				break
			}
			t.Code = code
			t.push(result)

		case OpWaitMicros:
			v := t.pop()
			if !vm.IsInt(v) {
				t.Fail(vm.NeedsInteger)
				break
			}
			t.Status = Waiting
			t.WakeTime = in.clock.Micros() + uint32(vm.IntValue(v))
			suspend = true
		case OpWaitMillis:
			v := t.pop()
			if !vm.IsInt(v) {
				t.Fail(vm.NeedsInteger)
				break
			}
			t.Status = Waiting
			t.WakeTime = in.clock.Micros() + uint32(vm.IntValue(v))*1000
			suspend = true

		case OpPrintIt:
			if !in.emitOutput(t, t.top()) {
				t.IP = ip
				suspend = true
				break
			}
			t.pop()
		case OpSayIt:
			if !in.emitOutput(t, t.top()) {
				t.IP = ip
				suspend = true
				break
			}
			t.pop()

		case OpStopAll:
			if in.StopAllFn != nil {
				in.StopAllFn()
			}
			in.completeDone(t)
			return

		case OpAdd, OpSubtract, OpMultiply, OpDivide, OpModulo:
			in.arith(t, op)
		case OpLessThan, OpLessOrEq, OpGreaterOrEq, OpGreaterThan:
			in.compare(t, op)
		case OpEqual:
			in.equal(t)
		case OpNot:
			v := t.pop()
			if !vm.IsBool(v) {
				t.Fail(vm.NeedsBoolean)
				break
			}
			t.push(vm.MakeBool(!vm.BoolValue(v)))

		case OpNewArray:
			n := t.pop()
			if !vm.IsInt(n) || vm.IntValue(n) < 0 {
				t.Fail(vm.NeedsNonNegative)
				break
			}
			ref, err := in.heap.NewArray(int(vm.IntValue(n)), vm.False, t.currentRoots)
			if err != nil {
				t.Fail(vm.InsufficientMemory)
				break
			}
			t.push(ref)
		case OpNewByteArray:
			n := t.pop()
			if !vm.IsInt(n) || vm.IntValue(n) < 0 {
				t.Fail(vm.NeedsNonNegative)
				break
			}
			ref, err := in.heap.NewByteArray(int(vm.IntValue(n)), t.currentRoots)
			if err != nil {
				t.Fail(vm.InsufficientMemory)
				break
			}
			t.push(ref)
		case OpFillArray:
			v := t.pop()
			ref := t.pop()
			if in.heap.ObjType(ref) != vm.ArrayType {
				t.Fail(vm.NeedsArray)
				break
			}
			in.heap.FillArray(ref, v)
		case OpAt:
			in.at(t)
		case OpAtPut:
			in.atPut(t)

		case OpAnalogRead:
			pin := t.pop()
			if !vm.IsInt(pin) {
				t.Fail(vm.NeedsInteger)
				break
			}
			v, code := in.board.AnalogRead(int(vm.IntValue(pin)))
			if code != vm.NoError {
				t.Fail(code)
				break
			}
			t.push(vm.MakeInt(int32(v)))
		case OpAnalogWrite:
			v := t.pop()
			pin := t.pop()
			if !vm.IsInt(pin) || !vm.IsInt(v) {
				t.Fail(vm.NeedsInteger)
				break
			}
			if code := in.board.AnalogWrite(int(vm.IntValue(pin)), int(vm.IntValue(v))); code != vm.NoError {
				t.Fail(code)
			}
		case OpDigitalRead:
			pin := t.pop()
			if !vm.IsInt(pin) {
				t.Fail(vm.NeedsInteger)
				break
			}
			v, code := in.board.DigitalRead(int(vm.IntValue(pin)))
			if code != vm.NoError {
				t.Fail(code)
				break
			}
			t.push(vm.MakeBool(v))
		case OpDigitalWrite:
			v := t.pop()
			pin := t.pop()
			if !vm.IsInt(pin) || !vm.IsBool(v) {
				t.Fail(vm.NeedsBoolean)
				break
			}
			if code := in.board.DigitalWrite(int(vm.IntValue(pin)), vm.BoolValue(v)); code != vm.NoError {
				t.Fail(code)
			}
		case OpSetLED:
			v := t.pop()
			if !vm.IsBool(v) {
				t.Fail(vm.NeedsBoolean)
				break
			}
			if code := in.board.SetLED(vm.BoolValue(v)); code != vm.NoError {
				t.Fail(code)
			}
		case OpAnalogPins:
			t.push(vm.MakeInt(int32(in.board.AnalogPinCount())))
		case OpDigitalPins:
			t.push(vm.MakeInt(int32(in.board.DigitalPinCount())))

		case OpMicros:
			t.push(vm.MakeInt(int32(in.clock.Micros())))
		case OpMillis:
			t.push(vm.MakeInt(int32(in.clock.Micros() >> 10)))

		case OpPeek:
			addr := t.pop()
			if !vm.IsInt(addr) {
				t.Fail(vm.NeedsInteger)
				break
			}
			idx := int(vm.IntValue(addr))
			if idx < 0 || idx >= in.heap.Capacity() {
				t.Fail(vm.IndexOutOfRange)
				break
			}
			t.push(in.heap.WordAt(idx))
		case OpPoke:
			v := t.pop()
			addr := t.pop()
			if !vm.IsInt(addr) {
				t.Fail(vm.NeedsInteger)
				break
			}
			idx := int(vm.IntValue(addr))
			if idx < 0 || idx >= in.heap.Capacity() {
				t.Fail(vm.IndexOutOfRange)
				break
			}
			in.heap.SetWordAt(idx, v)

		case OpHexToInt:
			s := t.pop()
			if in.heap.ObjType(s) != vm.StringType {
				t.Fail(vm.NeedsString)
				break
			}
			text := string(in.heap.StringBytes(s))
			n, err := strconv.ParseInt(text, 16, 64)
			if err != nil || n < -(1<<30) || n > (1<<30)-1 {
				t.Fail(vm.HexRange)
				break
			}
			t.push(vm.MakeInt(int32(n)))

		case OpI2CGet:
			reg := t.pop()
			dev := t.pop()
			if !vm.IsInt(dev) || !vm.IsInt(reg) {
				t.Fail(vm.NeedsInteger)
				break
			}
			v, code := in.board.I2CGet(int(vm.IntValue(dev)), int(vm.IntValue(reg)))
			if code != vm.NoError {
				t.Fail(code)
				break
			}
			t.push(vm.MakeInt(int32(v)))
		case OpI2CSet:
			v := t.pop()
			reg := t.pop()
			dev := t.pop()
			if !vm.IsInt(dev) || !vm.IsInt(reg) || !vm.IsInt(v) {
				t.Fail(vm.NeedsInteger)
				break
			}
			if code := in.board.I2CSet(int(vm.IntValue(dev)), int(vm.IntValue(reg)), int(vm.IntValue(v))); code != vm.NoError {
				t.Fail(code)
			}

		case OpPrimitive:
			in.dispatchPrimitive(t, payloadIdx, ip, raw)

		default:
			t.Fail(vm.UnspecifiedError)
		}

		if t.ErrorCode != vm.NoError {
			in.reportError(t)
			return
		}
		if suspend {
			return
		}
	}
}

func (in *Interpreter) globalAt(t *Task, idx int) vm.Value {
	if idx < 0 || idx >= len(in.globals) {
		t.Fail(vm.BadChunkIndex)
		return vm.False
	}
	return in.globals[idx]
}

func (in *Interpreter) setGlobalAt(t *Task, idx int, v vm.Value) {
	if idx < 0 || idx >= len(in.globals) {
		t.Fail(vm.BadChunkIndex)
		return
	}
	in.globals[idx] = v
}

func (in *Interpreter) argAt(t *Task, i int) vm.Value {
	if t.FP == 0 {
		t.Fail(vm.UnspecifiedError)
		return vm.False
	}
	argCount := int(vm.IntValue(t.Stack[t.FP-3]))
	return t.Stack[t.FP-3-argCount+i]
}

func (in *Interpreter) setArgAt(t *Task, i int, v vm.Value) {
	if t.FP == 0 {
		t.Fail(vm.UnspecifiedError)
		return
	}
	argCount := int(vm.IntValue(t.Stack[t.FP-3]))
	t.Stack[t.FP-3-argCount+i] = v
}

func (in *Interpreter) arith(t *Task, op Opcode) {
	b := t.pop()
	a := t.pop()
	if !vm.IsInt(a) || !vm.IsInt(b) {
		t.Fail(vm.NeedsInteger)
		return
	}
	x, y := vm.IntValue(a), vm.IntValue(b)
	switch op {
	case OpAdd:
		t.push(vm.MakeInt(x + y))
	case OpSubtract:
		t.push(vm.MakeInt(x - y))
	case OpMultiply:
		t.push(vm.MakeInt(x * y))
	case OpDivide:
		if y == 0 {
			t.Fail(vm.DivideByZero)
			return
		}
		t.push(vm.MakeInt(x / y))
	case OpModulo:
		if y == 0 {
			t.Fail(vm.DivideByZero)
			return
		}
		t.push(vm.MakeInt(x % y))
	}
}

func (in *Interpreter) compare(t *Task, op Opcode) {
	b := t.pop()
	a := t.pop()
	if !vm.IsInt(a) || !vm.IsInt(b) {
		t.Fail(vm.NeedsInteger)
		return
	}
	x, y := vm.IntValue(a), vm.IntValue(b)
	var result bool
	switch op {
	case OpLessThan:
		result = x < y
	case OpLessOrEq:
		result = x <= y
	case OpGreaterOrEq:
		result = x >= y
	case OpGreaterThan:
		result = x > y
	}
	t.push(vm.MakeBool(result))
}

// equal implements spec.md §4.4's rule set: identical words are always
// equal; otherwise two integers compare by value, two booleans compare
// by sentinel (already false here, since identical was handled above),
// and any other mismatched pairing is not comparable.
func (in *Interpreter) equal(t *Task) {
	b := t.pop()
	a := t.pop()
	if a == b {
		t.push(vm.True)
		return
	}
	switch {
	case vm.IsInt(a) && vm.IsInt(b):
		t.push(vm.MakeBool(vm.IntValue(a) == vm.IntValue(b)))
	case vm.IsBool(a) && vm.IsBool(b):
		t.push(vm.False)
	default:
		t.Fail(vm.NonComparable)
	}
}

// resolveIndex turns an `at`/`atPut` index operand into a 1-based
// integer index, recognizing the "last"/"random" String sentinels
// spec.md §4.4 calls out by name match.
func (in *Interpreter) resolveIndex(t *Task, k vm.Value, length int) (int, bool) {
	if vm.IsInt(k) {
		return int(vm.IntValue(k)), true
	}
	if in.heap.ObjType(k) == vm.StringType {
		switch string(in.heap.StringBytes(k)) {
		case "last":
			return length, true
		case "random":
			if length <= 0 {
				return 0, false
			}
			return 1 + int(in.nextRandom()%uint32(length)), true
		}
	}
	t.Fail(vm.NeedsIntegerIndex)
	return 0, false
}

func (in *Interpreter) at(t *Task) {
	k := t.pop()
	seq := t.pop()
	switch in.heap.ObjType(seq) {
	case vm.ListType:
		idx, ok := in.resolveIndex(t, k, in.heap.ListLength(seq))
		if !ok {
			return
		}
		v, code := in.heap.ListAt(seq, idx)
		if code != vm.NoError {
			t.Fail(code)
			return
		}
		t.push(v)
	case vm.ByteArrayType:
		idx, ok := in.resolveIndex(t, k, in.heap.ByteArrayLength(seq))
		if !ok {
			return
		}
		v, code := in.heap.ByteArrayAt(seq, idx)
		if code != vm.NoError {
			t.Fail(code)
			return
		}
		t.push(v)
	case vm.StringType:
		idx, ok := in.resolveIndex(t, k, in.heap.CodepointCount(seq))
		if !ok {
			return
		}
		v, code := in.heap.StringAt(seq, idx, t.currentRoots)
		if code != vm.NoError {
			t.Fail(code)
			return
		}
		t.push(v)
	case vm.ArrayType:
		idx, ok := in.resolveIndex(t, k, in.heap.ArrayLength(seq))
		if !ok {
			return
		}
		v, code := in.heap.ArrayAt(seq, idx)
		if code != vm.NoError {
			t.Fail(code)
			return
		}
		t.push(v)
	default:
		t.Fail(vm.NeedsArray)
	}
}

func (in *Interpreter) atPut(t *Task) {
	v := t.pop()
	k := t.pop()
	seq := t.pop()
	switch in.heap.ObjType(seq) {
	case vm.ListType:
		idx, ok := in.resolveIndex(t, k, in.heap.ListLength(seq))
		if !ok {
			return
		}
		if code := in.heap.ListAtPut(seq, idx, v); code != vm.NoError {
			t.Fail(code)
		}
	case vm.ByteArrayType:
		idx, ok := in.resolveIndex(t, k, in.heap.ByteArrayLength(seq))
		if !ok {
			return
		}
		if code := in.heap.ByteArrayAtPut(seq, idx, v); code != vm.NoError {
			t.Fail(code)
		}
	case vm.ArrayType:
		idx, ok := in.resolveIndex(t, k, in.heap.ArrayLength(seq))
		if !ok {
			return
		}
		if code := in.heap.ArrayAtPut(seq, idx, v); code != vm.NoError {
			t.Fail(code)
		}
	default:
		t.Fail(vm.NeedsArray)
	}
}

func (in *Interpreter) emitOutput(t *Task, v vm.Value) bool {
	return emit(in.output, OutMessage{
		Kind:      OutputValueMsg,
		ChunkID:   byte(t.CurrentChunkIndex),
		Value:     v,
		ValueType: in.heap.ObjType(v),
	})
}

func (in *Interpreter) completeDone(t *Task) {
	t.Status = Unused
	emit(in.output, OutMessage{Kind: TaskDone, ChunkID: byte(t.HatChunkIndex)})
}

func (in *Interpreter) completeReturned(t *Task, v vm.Value) {
	t.Status = Unused
	emit(in.output, OutMessage{Kind: TaskReturnedValue, ChunkID: byte(t.HatChunkIndex), Value: v, ValueType: in.heap.ObjType(v)})
}

// reportError implements spec.md §7: emit taskError carrying the code
// and a packed (ip<<8)|chunkId location, then retire the task.
func (in *Interpreter) reportError(t *Task) {
	t.Status = Unused
	loc := uint32(t.IP)<<8 | uint32(byte(t.CurrentChunkIndex))
	t.ErrorLocation = loc
	log.Debugf("[INTERP]> task (hat=%d) failed: %s at %#x", t.HatChunkIndex, t.ErrorCode, loc)
	emit(in.output, OutMessage{Kind: TaskError, ChunkID: byte(t.HatChunkIndex), ErrorCode: t.ErrorCode, ErrorLocation: loc})
}
