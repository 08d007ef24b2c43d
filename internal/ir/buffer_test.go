package ir

import "testing"

func TestWriteReadOrder(t *testing.T) {
	b := NewBuffer()
	r1, err := b.Write(Instruction{Op: LoadInt, A: 1}, -1, -1)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	r2, _ := b.Write(Instruction{Op: LoadInt, A: 2}, -1, -1)
	if r2 != r1+1 {
		t.Fatalf("refs not monotonic: %d, %d", r1, r2)
	}

	ins, ref, ok := b.Read()
	if !ok || ref != r1 || ins.A != 1 {
		t.Fatalf("Read = (%+v, %d, %v), want first write", ins, ref, ok)
	}
}

func TestBufferFullError(t *testing.T) {
	b := NewBuffer()
	for i := 0; i < capacity; i++ {
		if _, err := b.Write(Instruction{Op: LoadInt, A: int32(i)}, -1, -1); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	if _, err := b.Write(Instruction{Op: LoadInt}, -1, -1); err == nil {
		t.Fatal("expected error writing to a full buffer")
	}
}

func TestAtAndExists(t *testing.T) {
	b := NewBuffer()
	ref, _ := b.Write(Instruction{Op: LoadInt, A: 42}, -1, -1)
	if !b.Exists(ref) {
		t.Fatal("expected freshly written ref to exist")
	}
	ins, ok := b.At(ref)
	if !ok || ins.A != 42 {
		t.Fatalf("At(%d) = (%+v, %v)", ref, ins, ok)
	}
	if b.Exists(ref + 1) {
		t.Fatal("unwritten ref should not exist")
	}
}

func TestEvictionAfterWraparound(t *testing.T) {
	b := NewBuffer()
	first, _ := b.Write(Instruction{Op: LoadInt}, -1, -1)
	for i := 0; i < capacity-1; i++ {
		b.Read()
		b.Write(Instruction{Op: LoadInt}, -1, -1)
	}
	// first has been read and evicted by now; a fresh ref cycle has begun.
	if b.Exists(first) {
		t.Fatal("expected first ref to be evicted after a full cycle")
	}
}
