package memory

import (
	"testing"
	"unsafe"
)

func TestNewInitializesHeader(t *testing.T) {
	m := NewManager()
	ptr := m.New(16, 0x2)

	typ, err := m.GetType(ptr)
	if err != nil {
		t.Fatalf("GetType: %v", err)
	}
	if typ != 0x2 {
		t.Fatalf("type = %d, want 2", typ)
	}

	rc, err := m.RefCount(ptr)
	if err != nil {
		t.Fatalf("RefCount: %v", err)
	}
	if rc != 1 {
		t.Fatalf("refcount = %d, want 1", rc)
	}
}

func TestAddRefRelease(t *testing.T) {
	m := NewManager()
	ptr := m.New(8, 0x1)

	if err := m.AddRef(ptr); err != nil {
		t.Fatalf("AddRef: %v", err)
	}
	if rc, _ := m.RefCount(ptr); rc != 2 {
		t.Fatalf("refcount after AddRef = %d, want 2", rc)
	}

	if err := m.Release(ptr); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if rc, _ := m.RefCount(ptr); rc != 1 {
		t.Fatalf("refcount after Release = %d, want 1", rc)
	}
}

func TestBadPointerRejected(t *testing.T) {
	m := NewManager()
	var x int64
	_, err := m.GetType(unsafe.Pointer(&x))
	if err == nil {
		t.Fatal("expected BadPointer error for foreign pointer")
	}
}

func TestResetInvalidatesSegments(t *testing.T) {
	m := NewManager()
	m.New(32, 0x1)
	if m.Stats().Segments == 0 {
		t.Fatal("expected at least one segment after allocation")
	}
	m.Reset()
	if m.Stats().Segments != 0 {
		t.Fatalf("segments after Reset = %d, want 0", m.Stats().Segments)
	}
}

func TestSegmentGrowth(t *testing.T) {
	m := NewManager()
	// Allocate more than one default-sized segment's worth of blocks.
	for i := 0; i < 10000; i++ {
		m.New(32, 0x1)
	}
	if m.Stats().Segments < 2 {
		t.Fatalf("expected geometric growth to add segments, got %d", m.Stats().Segments)
	}
}

func TestNewManagedLookup(t *testing.T) {
	m := NewManager()
	type payload struct{ s string }
	ptr := m.NewManaged(0x2, &payload{s: "hi"})

	obj, err := m.Lookup(ptr)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	p, ok := obj.(*payload)
	if !ok || p.s != "hi" {
		t.Fatalf("Lookup returned %#v, want payload{hi}", obj)
	}

	typ, err := m.GetType(ptr)
	if err != nil || typ != 0x2 {
		t.Fatalf("GetType = (%d, %v), want (2, nil)", typ, err)
	}
}

func TestGetTypeUnsafe(t *testing.T) {
	m := NewManager()
	ptr := m.New(8, 0x3)
	if got := GetTypeUnsafe(ptr); got != 0x3 {
		t.Fatalf("GetTypeUnsafe = %d, want 3", got)
	}
}
