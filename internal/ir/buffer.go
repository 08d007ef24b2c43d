package ir

import "sunscript/internal/sunerr"

const capacity = 64

// Buffer is the fixed 64-slot ring the trace recorder writes an
// in-flight recording into, one instruction at a time via Write, and
// reads back out in write order via Read (spec.md §4.4). The optimizer
// stages do not use it; they pass instructions through optimizer.Output.
type Buffer struct {
	slots [capacity]Instruction
	refs  [capacity]Ref // absolute ref of the instruction in slots[i]

	head int // next write position
	tail int // next read position
	size int
	next Ref // absolute ref to assign on the next Write
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Write appends ins (with the given operand references) at the next
// absolute ref, returning that ref. It fails with an internal
// "BufferFull" error if the ring has no free slot — callers are
// expected to Read (drain downstream) before the buffer fills.
func (b *Buffer) Write(ins Instruction, left, right Ref) (Ref, error) {
	if b.size == capacity {
		return 0, sunerr.New(sunerr.Internal, "", 0, "ir buffer full")
	}
	ins.Left, ins.Right = left, right
	ref := b.next
	b.slots[b.head] = ins
	b.refs[b.head] = ref
	b.head = (b.head + 1) % capacity
	b.size++
	b.next++
	return ref, nil
}

// Read dequeues the oldest unread instruction.
func (b *Buffer) Read() (Instruction, Ref, bool) {
	if b.size == 0 {
		return Instruction{}, 0, false
	}
	ins := b.slots[b.tail]
	ref := b.refs[b.tail]
	b.tail = (b.tail + 1) % capacity
	b.size--
	return ins, ref, true
}

// At returns the instruction stored at absolute ref, if it has not yet
// been evicted by wraparound.
func (b *Buffer) At(ref Ref) (Instruction, bool) {
	if !b.Exists(ref) {
		return Instruction{}, false
	}
	idx := (b.tail + int(ref-b.refs[b.tail])) % capacity
	return b.slots[idx], true
}

// Exists reports whether ref still has a live slot in the ring (it has
// been written and not yet evicted by a later Write wrapping around).
func (b *Buffer) Exists(ref Ref) bool {
	if b.size == 0 {
		return false
	}
	oldest := b.refs[b.tail]
	newest := b.next - 1
	return ref >= oldest && ref <= newest
}

// Len reports the number of unread instructions currently buffered.
func (b *Buffer) Len() int { return b.size }

// Snapshot returns every currently buffered instruction in write order
// without consuming them, for diagnostics and tests that need to
// inspect an in-flight recording.
func (b *Buffer) Snapshot() []Instruction {
	out := make([]Instruction, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.slots[(b.tail+i)%capacity])
	}
	return out
}

// Full reports whether the next Write would fail.
func (b *Buffer) Full() bool { return b.size == capacity }
