package vm

import "testing"

func TestStringRoundTrip(t *testing.T) {
	h := NewHeap(256, false)
	ref, err := h.NewString([]byte("hello"), noRoots)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(h.StringBytes(ref)); got != "hello" {
		t.Errorf("StringBytes = %q, want %q", got, "hello")
	}
}

func TestUnicodeIndexingByCodepoint(t *testing.T) {
	// R3: unicodeString(unicodeAt(s, i)) equals the i-th Unicode character.
	h := NewHeap(256, false)
	s := "aé中 b" // mixes ASCII, accented Latin, CJK, space, ASCII
	ref, _ := h.NewString([]byte(s), noRoots)

	n := h.CodepointCount(ref)
	runes := []rune(s)
	if n != len(runes) {
		t.Fatalf("CodepointCount = %d, want %d", n, len(runes))
	}

	for i := 1; i <= n; i++ {
		cp, ec := h.UnicodeAt(ref, i)
		if ec != NoError {
			t.Fatalf("UnicodeAt(%d) error: %v", i, ec)
		}
		if rune(IntValue(cp)) != runes[i-1] {
			t.Errorf("UnicodeAt(%d) = %d, want %d", i, IntValue(cp), runes[i-1])
		}
		back, err := h.UnicodeString(IntValue(cp), noRoots)
		if err != nil {
			t.Fatal(err)
		}
		if got := string(h.StringBytes(back)); got != string(runes[i-1]) {
			t.Errorf("UnicodeString round trip at %d = %q, want %q", i, got, string(runes[i-1]))
		}
	}
}

func TestStringAtReturnsOneCharacterString(t *testing.T) {
	h := NewHeap(256, false)
	ref, _ := h.NewString([]byte("abçd"), noRoots)
	v, ec := h.StringAt(ref, 3, noRoots)
	if ec != NoError {
		t.Fatalf("StringAt(3): %v", ec)
	}
	if got := string(h.StringBytes(v)); got != "ç" {
		t.Errorf("StringAt(3) = %q, want %q", got, "ç")
	}
}

func TestByteArrayIdempotence(t *testing.T) {
	// R1: asByteArray(asByteArray(x)) == asByteArray(x). Exercised here at
	// the vm layer as: copying a ByteArray's bytes into a fresh ByteArray
	// of the same bytes reproduces the same stored bytes.
	h := NewHeap(256, false)
	ref, _ := h.NewByteArray(3, noRoots)
	h.ByteArrayAtPut(ref, 1, MakeInt(10))
	h.ByteArrayAtPut(ref, 2, MakeInt(20))
	h.ByteArrayAtPut(ref, 3, MakeInt(30))

	again, _ := h.NewByteArray(3, noRoots)
	for i := 1; i <= 3; i++ {
		v, _ := h.ByteArrayAt(ref, i)
		h.ByteArrayAtPut(again, i, v)
	}
	for i := 1; i <= 3; i++ {
		a, _ := h.ByteArrayAt(ref, i)
		b, _ := h.ByteArrayAt(again, i)
		if a != b {
			t.Errorf("byte %d mismatch: %v vs %v", i, a, b)
		}
	}
}
