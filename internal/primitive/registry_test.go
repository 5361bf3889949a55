package primitive

import (
	"testing"

	"github.com/microblocks-fw/vm/internal/vm"
)

func constFn(v vm.Value) Fn {
	return func(ctx Context, argCount int, args []vm.Value) vm.Value {
		return v
	}
}

func TestResolveUnknownSetFails(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Resolve("net", "connect"); ok {
		t.Fatal("resolving an unregistered set must fail")
	}
}

func TestResolveUnknownNameFails(t *testing.T) {
	r := NewRegistry()
	r.AddPrimitiveSet(1, "net", []Entry{{Name: "connect", Fn: constFn(vm.True)}})
	if _, ok := r.Resolve("net", "disconnect"); ok {
		t.Fatal("resolving an unregistered name within a known set must fail")
	}
}

func TestResolveAndCallRoundTrip(t *testing.T) {
	r := NewRegistry()
	r.AddPrimitiveSet(1, "net", []Entry{{Name: "connect", Fn: constFn(vm.True)}})

	idx, ok := r.Resolve("net", "connect")
	if !ok {
		t.Fatal("expected net.connect to resolve")
	}
	got := r.Call(idx, nil, 0, nil)
	if got != vm.True {
		t.Fatalf("got %v, want vm.True", got)
	}
}

func TestResolveIsCachedAcrossCalls(t *testing.T) {
	r := NewRegistry()
	r.AddPrimitiveSet(2, "sensor", []Entry{{Name: "read", Fn: constFn(vm.MakeInt(42))}})

	idx1, ok := r.Resolve("sensor", "read")
	if !ok {
		t.Fatal("expected sensor.read to resolve")
	}
	idx2, ok := r.Resolve("sensor", "read")
	if !ok {
		t.Fatal("expected cached resolution of sensor.read to succeed")
	}
	if idx1 != idx2 {
		t.Fatalf("cached resolution returned a different index: %d vs %d", idx1, idx2)
	}
	if len(r.resolved) != 1 {
		t.Fatalf("expected exactly one flat table entry, got %d", len(r.resolved))
	}
}

func TestReregisteringSetReplacesEntries(t *testing.T) {
	r := NewRegistry()
	r.AddPrimitiveSet(1, "net", []Entry{{Name: "connect", Fn: constFn(vm.False)}})
	r.AddPrimitiveSet(1, "net", []Entry{{Name: "connect", Fn: constFn(vm.True)}})

	// The cache was primed with neither resolution yet, so re-registering
	// before the first Resolve must pick up the newest entry.
	idx, ok := r.Resolve("net", "connect")
	if !ok {
		t.Fatal("expected net.connect to resolve after re-registration")
	}
	if got := r.Call(idx, nil, 0, nil); got != vm.True {
		t.Fatalf("got %v, want vm.True from the replaced entry", got)
	}
}

func TestCallOutOfRangeIndexPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Call with an out-of-range index to panic")
		}
	}()
	r := NewRegistry()
	r.Call(0, nil, 0, nil)
}
