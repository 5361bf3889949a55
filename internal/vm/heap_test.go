package vm

import "testing"

func noRoots(visit func(old Value) (new Value)) {}

func TestNewObjNeverUninitialized(t *testing.T) {
	h := NewHeap(64, false)
	ref, err := h.NewArray(4, MakeInt(7), noRoots)
	if err != nil {
		t.Fatalf("unexpected OOM: %v", err)
	}
	for k := 1; k <= 4; k++ {
		v, ec := h.ArrayAt(ref, k)
		if ec != NoError || IntValue(v) != 7 {
			t.Errorf("slot %d not initialized to fill value", k)
		}
	}
}

func TestOutOfMemoryWithoutCollector(t *testing.T) {
	h := NewHeap(4, false)
	_, err := h.NewArray(100, False, noRoots)
	if err == nil {
		t.Fatal("expected out-of-memory error")
	}
}

func TestObjTypeTagging(t *testing.T) {
	h := NewHeap(256, false)
	arr, _ := h.NewArray(2, False, noRoots)
	lst, _ := h.NewList(2, noRoots)
	str, _ := h.NewString([]byte("hi"), noRoots)
	ba, _ := h.NewByteArray(3, noRoots)

	cases := []struct {
		v    Value
		want ValueType
	}{
		{MakeInt(1), IntegerType},
		{True, BooleanType},
		{False, BooleanType},
		{arr, ArrayType},
		{lst, ListType},
		{str, StringType},
		{ba, ByteArrayType},
	}
	for _, c := range cases {
		if got := h.ObjType(c.v); got != c.want {
			t.Errorf("ObjType(%v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestByteArrayLengthAdjust(t *testing.T) {
	h := NewHeap(64, false)
	for _, n := range []int{0, 1, 2, 3, 4, 5, 17} {
		ref, err := h.NewByteArray(n, noRoots)
		if err != nil {
			t.Fatalf("NewByteArray(%d): %v", n, err)
		}
		if got := h.ByteArrayLength(ref); got != n {
			t.Errorf("ByteArrayLength after NewByteArray(%d) = %d", n, got)
		}
	}
}

func TestByteArrayStoreRange(t *testing.T) {
	h := NewHeap(64, false)
	ref, _ := h.NewByteArray(4, noRoots)
	if ec := h.ByteArrayAtPut(ref, 1, MakeInt(255)); ec != NoError {
		t.Errorf("storing 255 should succeed, got %v", ec)
	}
	if ec := h.ByteArrayAtPut(ref, 1, MakeInt(256)); ec != ByteArrayStore {
		t.Errorf("storing 256 should fail with ByteArrayStore, got %v", ec)
	}
	if ec := h.ByteArrayAtPut(ref, 1, MakeInt(-1)); ec != ByteArrayStore {
		t.Errorf("storing -1 should fail with ByteArrayStore, got %v", ec)
	}
}

func TestResizeObjPreservesPayload(t *testing.T) {
	h := NewHeap(64, false)
	ref, _ := h.NewArray(2, MakeInt(9), noRoots)
	h.ArrayAtPut(ref, 1, MakeInt(1))
	h.ArrayAtPut(ref, 2, MakeInt(2))
	newRef, err := h.ResizeObj(ref, 4, noRoots)
	if err != nil {
		t.Fatalf("ResizeObj: %v", err)
	}
	v1, _ := h.ArrayAt(newRef, 1)
	v2, _ := h.ArrayAt(newRef, 2)
	if IntValue(v1) != 1 || IntValue(v2) != 2 {
		t.Errorf("resize did not preserve original payload: %v %v", v1, v2)
	}
}

func TestScratchRootSurvivesCollection(t *testing.T) {
	h := NewHeap(16, true)
	anchored, _ := h.NewString([]byte("anchored"), noRoots)
	h.SetScratch(anchored)
	// Force a collection by allocating past capacity with no other roots;
	// each unanchored 2-word array becomes garbage the instant it's made.
	for i := 0; i < 6; i++ {
		if _, err := h.NewArray(1, False, noRoots); err != nil {
			t.Fatalf("allocation %d failed: %v", i, err)
		}
	}
	if h.CollectionCount() == 0 {
		t.Fatal("test setup did not actually trigger a collection")
	}
	if h.ObjType(h.Scratch()) != StringType {
		t.Error("scratch-anchored object did not survive collection")
	}
	if string(h.StringBytes(h.Scratch())) != "anchored" {
		t.Error("scratch-anchored string content corrupted by collection")
	}
}
