package vm

import "testing"

func TestIntRoundTrip(t *testing.T) {
	// I1: intDecode(intEncode(x)) = x for x in [-2^30, 2^30-1].
	samples := []int32{0, 1, -1, 42, -42, 1 << 30 - 1, -(1 << 30), 1000000, -1000000}
	for _, x := range samples {
		got := IntValue(MakeInt(x))
		if got != x {
			t.Errorf("MakeInt/IntValue round trip failed for %d: got %d", x, got)
		}
	}
}

func TestIntTagBit(t *testing.T) {
	if !IsInt(MakeInt(5)) {
		t.Error("tagged integer should report IsInt")
	}
	if IsInt(False) || IsInt(True) {
		t.Error("boolean sentinels must not be mistaken for tagged integers")
	}
}

func TestBooleanSentinels(t *testing.T) {
	if !IsBool(False) || !IsBool(True) {
		t.Error("False/True must both report IsBool")
	}
	if BoolValue(True) != true || BoolValue(False) != false {
		t.Error("BoolValue mismatch")
	}
	if IsHeapRef(False) || IsHeapRef(True) {
		t.Error("boolean sentinels must never be mistaken for heap references")
	}
}

func TestModularOverflow(t *testing.T) {
	// B2: division/arithmetic overflow wraps, does not trap. Encoding
	// itself must tolerate the full int32 range without panicking.
	x := MakeInt(1<<31 - 1)
	_ = IntValue(x)
}
