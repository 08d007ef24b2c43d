package optimizer

import (
	"testing"

	"sunscript/internal/ir"
)

// TestGuardCoalescesAcrossSnap mirrors trace.Recorder.maybeGuard, which
// always inserts an IR_SNAP immediately before a guard: LOAD, SNAP,
// GUARD, SNAP, GUARD. The second guard on the same ref and type is
// dominated by the first and should fold to a NOP even though a SNAP
// sits between them.
func TestGuardCoalescesAcrossSnap(t *testing.T) {
	g := &GuardStage{}
	out := newOutput()

	trace := []ir.Instruction{
		{Op: ir.LoadIntLocal, C: 0},
		{Op: ir.Snap, A: 1},
		{Op: ir.Guard, Left: 0, ResultType: 1},
		{Op: ir.Snap, A: 2},
		{Op: ir.Guard, Left: 0, ResultType: 1},
	}
	for i, ins := range trace {
		g.Forward(ir.Ref(i), ins, out)
	}
	g.Drain(out)

	seq := out.Sequence()
	if seq[2].Op != ir.Guard {
		t.Fatalf("seq[2] = %v, want the first guard preserved", seq[2].Op)
	}
	if seq[4].Op != ir.Nop {
		t.Fatalf("seq[4] = %v, want the dominated second guard folded to NOP", seq[4].Op)
	}
}

// TestGuardDoesNotCoalesceAcrossOtherInstructions confirms dominance
// still breaks when something other than a guard or a snap intervenes.
func TestGuardDoesNotCoalesceAcrossOtherInstructions(t *testing.T) {
	g := &GuardStage{}
	out := newOutput()

	trace := []ir.Instruction{
		{Op: ir.Guard, Left: 0, ResultType: 1},
		{Op: ir.AddInt, Left: 0, Right: 0},
		{Op: ir.Guard, Left: 0, ResultType: 1},
	}
	for i, ins := range trace {
		g.Forward(ir.Ref(i), ins, out)
	}
	g.Drain(out)

	seq := out.Sequence()
	if seq[2].Op != ir.Guard {
		t.Fatalf("seq[2] = %v, want the second guard preserved (dominance broken by an intervening instruction)", seq[2].Op)
	}
}
