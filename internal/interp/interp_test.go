package interp

import (
	"testing"
	"time"

	"github.com/microblocks-fw/vm/internal/primitive"
	"github.com/microblocks-fw/vm/internal/vm"
)

var fixedStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type chunkTable map[int]vm.Value

func (c chunkTable) Chunk(i int) (vm.Value, bool) {
	v, ok := c[i]
	return v, ok
}

func allWords(hp *vm.Heap) vm.RootWalker {
	_ = hp
	return func(visit func(old vm.Value) (new vm.Value)) {}
}

type recordingSink struct {
	messages []OutMessage
}

func (s *recordingSink) TryEmit(m OutMessage) bool {
	s.messages = append(s.messages, m)
	return true
}

func newChunk(t *testing.T, hp *vm.Heap, words []vm.Value) vm.Value {
	t.Helper()
	ref, err := hp.NewCodeChunk(len(words), nil)
	if err != nil {
		t.Fatalf("NewCodeChunk: %v", err)
	}
	idx := hp.PayloadIndex(ref)
	for i, w := range words {
		hp.SetWordAt(idx+i, w)
	}
	return ref
}

func asm(op Opcode, signedArg int32) vm.Value {
	return packInstruction(op, uint32(signedArg)&0x00FFFFFF)
}

func TestPushAddReturnTopLevel(t *testing.T) {
	hp := vm.NewHeap(256, false)
	sink := &recordingSink{}
	in := New(Config{Heap: hp, GlobalCount: 4, Primitives: primitive.NewRegistry(), Chunks: chunkTable{}, Clock: NewSystemClock(fixedStart), Output: sink})

	code := newChunk(t, hp, []vm.Value{
		asm(OpPushImmediate, 2),
		asm(OpPushImmediate, 3),
		asm(OpAdd, 0),
		asm(OpReturnResult, 0),
	})
	task := NewTask(in, 0, code)
	in.Run(task, allWords(hp))

	if task.Status != Unused {
		t.Fatalf("expected task to complete, got status %v", task.Status)
	}
	if len(sink.messages) != 1 || sink.messages[0].Kind != TaskReturnedValue {
		t.Fatalf("expected one taskReturnedValue message, got %+v", sink.messages)
	}
	if got := vm.IntValue(sink.messages[0].Value); got != 5 {
		t.Fatalf("got %d, want 5", got)
	}
}

func TestHaltEmitsTaskDone(t *testing.T) {
	hp := vm.NewHeap(256, false)
	sink := &recordingSink{}
	in := New(Config{Heap: hp, GlobalCount: 0, Primitives: primitive.NewRegistry(), Chunks: chunkTable{}, Clock: NewSystemClock(fixedStart), Output: sink})

	code := newChunk(t, hp, []vm.Value{asm(OpHalt, 0)})
	task := NewTask(in, 2, code)
	in.Run(task, allWords(hp))

	if task.Status != Unused {
		t.Fatalf("expected task to complete")
	}
	if len(sink.messages) != 1 || sink.messages[0].Kind != TaskDone || sink.messages[0].ChunkID != 2 {
		t.Fatalf("expected taskDone for chunk 2, got %+v", sink.messages)
	}
}

func TestBackwardJumpSuspends(t *testing.T) {
	hp := vm.NewHeap(256, false)
	in := New(Config{Heap: hp, GlobalCount: 0, Primitives: primitive.NewRegistry(), Chunks: chunkTable{}, Clock: NewSystemClock(fixedStart)})

	// A single instruction whose jump target is its own address: the
	// offset is relative to the address of the NEXT instruction (ip+1),
	// so target = ip to land back on this same word.
	code := newChunk(t, hp, []vm.Value{asm(OpJmp, -1)})
	task := NewTask(in, 0, code)
	in.Run(task, allWords(hp))

	if task.Status != Runnable {
		t.Fatalf("expected task to remain runnable after a suspension, got %v", task.Status)
	}
	if task.IP != 0 {
		t.Fatalf("expected ip to have wrapped back to 0, got %d", task.IP)
	}
}

func TestWaitMillisSuspendsAndSetsWakeTime(t *testing.T) {
	hp := vm.NewHeap(256, false)
	in := New(Config{Heap: hp, GlobalCount: 0, Primitives: primitive.NewRegistry(), Chunks: chunkTable{}, Clock: NewSystemClock(fixedStart)})

	code := newChunk(t, hp, []vm.Value{
		asm(OpPushImmediate, 10),
		asm(OpWaitMillis, 0),
		asm(OpHalt, 0),
	})
	task := NewTask(in, 0, code)
	in.Run(task, allWords(hp))

	if task.Status != Waiting {
		t.Fatalf("expected task to be waiting, got %v", task.Status)
	}
	if task.WakeTime == 0 {
		t.Fatalf("expected a non-zero wake time")
	}
}

func TestCallFunctionAndReturnResult(t *testing.T) {
	hp := vm.NewHeap(256, false)
	sink := &recordingSink{}

	callee := newChunk(t, hp, []vm.Value{
		asm(OpPushArg, 0),
		asm(OpPushArg, 1),
		asm(OpAdd, 0),
		asm(OpReturnResult, 0),
	})
	chunks := chunkTable{1: callee}
	in := New(Config{Heap: hp, GlobalCount: 0, Primitives: primitive.NewRegistry(), Chunks: chunks, Clock: NewSystemClock(fixedStart), Output: sink})

	callArg := uint32(0)<<16 | uint32(2)<<8 | uint32(1) // localCount=0, argCount=2, calleeChunk=1
	caller := newChunk(t, hp, []vm.Value{
		asm(OpPushImmediate, 4),
		asm(OpPushImmediate, 7),
		packInstruction(OpCallFunction, callArg),
		asm(OpReturnResult, 0),
	})
	chunks[0] = caller

	task := NewTask(in, 0, caller)
	in.Run(task, allWords(hp))

	if task.Status != Unused {
		t.Fatalf("expected task to complete, got %v", task.Status)
	}
	if len(sink.messages) != 1 || sink.messages[0].Kind != TaskReturnedValue {
		t.Fatalf("expected taskReturnedValue, got %+v", sink.messages)
	}
	if got := vm.IntValue(sink.messages[0].Value); got != 11 {
		t.Fatalf("got %d, want 11", got)
	}
}

func TestDivideByZeroReportsTaskError(t *testing.T) {
	hp := vm.NewHeap(256, false)
	sink := &recordingSink{}
	in := New(Config{Heap: hp, GlobalCount: 0, Primitives: primitive.NewRegistry(), Chunks: chunkTable{}, Clock: NewSystemClock(fixedStart), Output: sink})

	code := newChunk(t, hp, []vm.Value{
		asm(OpPushImmediate, 9),
		asm(OpPushImmediate, 0),
		asm(OpDivide, 0),
		asm(OpReturnResult, 0),
	})
	task := NewTask(in, 0, code)
	in.Run(task, allWords(hp))

	if task.Status != Unused {
		t.Fatalf("expected task to be retired after an error")
	}
	if len(sink.messages) != 1 || sink.messages[0].Kind != TaskError || sink.messages[0].ErrorCode != vm.DivideByZero {
		t.Fatalf("expected a divideByZero taskError, got %+v", sink.messages)
	}
}

func TestListAt(t *testing.T) {
	hp := vm.NewHeap(256, false)
	list, err := hp.NewList(3, nil)
	if err != nil {
		t.Fatalf("NewList: %v", err)
	}
	list, err = hp.ListAddLast(list, vm.MakeInt(10), nil)
	if err != nil {
		t.Fatalf("ListAddLast: %v", err)
	}
	list, err = hp.ListAddLast(list, vm.MakeInt(20), nil)
	if err != nil {
		t.Fatalf("ListAddLast: %v", err)
	}

	in := New(Config{Heap: hp, GlobalCount: 1, Primitives: primitive.NewRegistry(), Chunks: chunkTable{}, Clock: NewSystemClock(fixedStart)})
	in.SetGlobal(0, list)

	code := newChunk(t, hp, []vm.Value{
		asm(OpPushVar, 0),
		asm(OpPushImmediate, 2),
		asm(OpAt, 0),
		asm(OpReturnResult, 0),
	})
	task := NewTask(in, 0, code)
	sink := &recordingSink{}
	in.output = sink
	in.Run(task, allWords(hp))

	if len(sink.messages) != 1 || sink.messages[0].Kind != TaskReturnedValue {
		t.Fatalf("expected taskReturnedValue, got %+v", sink.messages)
	}
	if got := vm.IntValue(sink.messages[0].Value); got != 20 {
		t.Fatalf("got %d, want 20", got)
	}
}

func TestPrimitiveDispatchResolvesAndSelfPatches(t *testing.T) {
	hp := vm.NewHeap(256, false)
	reg := primitive.NewRegistry()
	reg.AddPrimitiveSet(1, "math", []primitive.Entry{
		{Name: "double", Fn: func(ctx primitive.Context, argCount int, args []vm.Value) vm.Value {
			return vm.MakeInt(vm.IntValue(args[0]) * 2)
		}},
	})
	in := New(Config{Heap: hp, GlobalCount: 0, Primitives: reg, Chunks: chunkTable{}, Clock: NewSystemClock(fixedStart)})

	setNameRef, _ := hp.NewString([]byte("math"), nil)
	nameRef, _ := hp.NewString([]byte("double"), nil)

	// Layout: [0] pushImmediate 21, [1] primitive (unresolved, offset to
	// the inline literal array at payload index 3), [2] returnResult,
	// [3..5] inline Array literal [setNameRef, nameRef].
	ref, err := hp.NewCodeChunk(6, nil)
	if err != nil {
		t.Fatalf("NewCodeChunk: %v", err)
	}
	idx := hp.PayloadIndex(ref)
	hp.SetWordAt(idx+0, asm(OpPushImmediate, 21))
	literalOffset := int32(3 - 1) // array at idx+3, relative to ip=1 (the primitive instruction's own address)
	hp.SetWordAt(idx+1, packInstruction(OpPrimitive, uint32(1)<<16|uint32(literalOffset)&0xFFFF))
	hp.SetWordAt(idx+2, asm(OpReturnResult, 0))
	hp.WriteInlineArray(idx+3, []vm.Value{setNameRef, nameRef})

	sink := &recordingSink{}
	in.output = sink
	task := NewTask(in, 0, ref)
	in.Run(task, allWords(hp))

	if len(sink.messages) != 1 || sink.messages[0].Kind != TaskReturnedValue {
		t.Fatalf("expected taskReturnedValue, got %+v", sink.messages)
	}
	if got := vm.IntValue(sink.messages[0].Value); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}

	patched := hp.WordAt(idx + 1)
	_, raw := instruction(patched)
	if !primitiveIsResolved(raw) {
		t.Fatalf("expected the primitive instruction to be self-patched to resolved form")
	}
}
