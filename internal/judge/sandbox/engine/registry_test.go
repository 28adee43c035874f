package engine

import (
	"reflect"
	"testing"
)

func TestRunRegistry(t *testing.T) {
	reg := newRunRegistry()
	reg.add("s1", "a")
	reg.add("s1", "b")
	reg.add("s2", "c")

	if got := reg.snapshot("s1"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected snapshot: %v", got)
	}
	reg.remove("s1", "a")
	if got := reg.snapshot("s1"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("unexpected snapshot after remove: %v", got)
	}
	reg.remove("s1", "b")
	if got := reg.snapshot("s1"); len(got) != 0 {
		t.Fatalf("expected empty snapshot, got %v", got)
	}
	reg.remove("missing", "x")
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "vm"}, nil); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
