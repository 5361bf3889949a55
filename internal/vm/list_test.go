package vm

import "testing"

func TestListAddLastGrows(t *testing.T) {
	h := NewHeap(4096, false)
	ref, err := h.NewList(1, noRoots)
	if err != nil {
		t.Fatal(err)
	}
	ref, err = h.ListAddLast(ref, MakeInt(1), noRoots)
	if err != nil {
		t.Fatal(err)
	}
	before := h.ListLength(ref)
	// Capacity is exactly 1; the next add must grow storage (B5).
	ref, err = h.ListAddLast(ref, MakeInt(2), noRoots)
	if err != nil {
		t.Fatal(err)
	}
	if got := h.ListLength(ref); got != before+1 {
		t.Errorf("logical length after grow = %d, want %d", got, before+1)
	}
	if h.ListCapacity(ref) <= 1 {
		t.Error("capacity did not grow past the original 1")
	}
	v1, _ := h.ListAt(ref, 1)
	v2, _ := h.ListAt(ref, 2)
	if IntValue(v1) != 1 || IntValue(v2) != 2 {
		t.Error("growth corrupted existing elements")
	}
}

func TestListLengthNeverExceedsCapacity(t *testing.T) {
	// I3: length <= capacity before and after every op.
	h := NewHeap(4096, false)
	ref, _ := h.NewList(2, noRoots)
	var err error
	for i := 0; i < 50; i++ {
		ref, err = h.ListAddLast(ref, MakeInt(int32(i)), noRoots)
		if err != nil {
			t.Fatal(err)
		}
		if h.ListLength(ref) > h.ListCapacity(ref) {
			t.Fatalf("length exceeded capacity after add %d", i)
		}
	}
}

func TestListBoundaryIndexing(t *testing.T) {
	// B1: at(0, list) and at(len+1, list) both fail with indexOutOfRange.
	h := NewHeap(256, false)
	ref, _ := h.NewList(3, noRoots)
	ref, _ = h.ListAddLast(ref, MakeInt(10), noRoots)
	ref, _ = h.ListAddLast(ref, MakeInt(20), noRoots)

	if _, ec := h.ListAt(ref, 0); ec != IndexOutOfRange {
		t.Errorf("at(0) = %v, want IndexOutOfRange", ec)
	}
	length := h.ListLength(ref)
	if _, ec := h.ListAt(ref, length+1); ec != IndexOutOfRange {
		t.Errorf("at(len+1) = %v, want IndexOutOfRange", ec)
	}
}

func TestListDeleteShiftsAndClears(t *testing.T) {
	h := NewHeap(256, false)
	ref, _ := h.NewList(4, noRoots)
	for _, n := range []int32{1, 2, 3} {
		ref, _ = h.ListAddLast(ref, MakeInt(n), noRoots)
	}
	if ec := h.ListDelete(ref, 2); ec != NoError {
		t.Fatalf("delete failed: %v", ec)
	}
	if h.ListLength(ref) != 2 {
		t.Errorf("length after delete = %d, want 2", h.ListLength(ref))
	}
	v1, _ := h.ListAt(ref, 1)
	v2, _ := h.ListAt(ref, 2)
	if IntValue(v1) != 1 || IntValue(v2) != 3 {
		t.Errorf("delete did not shift tail correctly: %v %v", v1, v2)
	}
}
