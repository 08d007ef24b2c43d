package optimizer

import (
	"testing"

	"sunscript/internal/ir"
)

func TestFoldsConstantIntAddition(t *testing.T) {
	trace := []ir.Instruction{
		{Op: ir.LoadInt, A: 2},              // ref 0
		{Op: ir.LoadInt, A: 3},              // ref 1
		{Op: ir.AddInt, Left: 0, Right: 1},   // ref 2: 2+3
		{Op: ir.Guard, Left: 2},              // ref 3: sink keeps ref 2 live
	}
	out := NewPipeline().Run(trace)
	if out[2].Op != ir.LoadInt || out[2].A != 5 {
		t.Fatalf("ref 2 = %+v, want folded LoadInt 5", out[2])
	}
}

func TestAlgebraicSimplificationAddZero(t *testing.T) {
	trace := []ir.Instruction{
		{Op: ir.LoadIntLocal, C: 0},        // ref 0: x
		{Op: ir.LoadInt, A: 0},             // ref 1: 0
		{Op: ir.AddInt, Left: 0, Right: 1}, // ref 2: x+0
		{Op: ir.Guard, Left: 2},
	}
	out := NewPipeline().Run(trace)
	if out[2].Op != ir.LoadIntLocal || out[2].C != 0 {
		t.Fatalf("ref 2 = %+v, want simplified to LoadIntLocal(x)", out[2])
	}
}

func TestDeadCodeEliminationDropsUnreadProducer(t *testing.T) {
	trace := []ir.Instruction{
		{Op: ir.LoadInt, A: 99}, // ref 0: never consumed by any sink
		{Op: ir.LoadInt, A: 1},  // ref 1
		{Op: ir.Guard, Left: 1}, // ref 2: keeps ref 1 live only
	}
	out := NewPipeline().Run(trace)
	if out[0].Op != ir.Nop {
		t.Fatalf("ref 0 = %+v, want IR_NOP (dead)", out[0])
	}
	if out[1].Op == ir.Nop {
		t.Fatal("ref 1 feeds a guard and must survive")
	}
}

func TestGuardCoalescingDropsDuplicate(t *testing.T) {
	trace := []ir.Instruction{
		{Op: ir.LoadIntLocal, C: 0},
		{Op: ir.Guard, Left: 0, ResultType: 0x1},
		{Op: ir.Guard, Left: 0, ResultType: 0x1}, // identical: should coalesce away
	}
	out := NewPipeline().Run(trace)
	if out[1].Op != ir.Guard {
		t.Fatalf("first guard should survive, got %+v", out[1])
	}
	if out[2].Op != ir.Nop {
		t.Fatalf("duplicate guard should be eliminated, got %+v", out[2])
	}
}

func TestDivisionByZeroNotFolded(t *testing.T) {
	trace := []ir.Instruction{
		{Op: ir.LoadInt, A: 10},
		{Op: ir.LoadInt, A: 0},
		{Op: ir.DivInt, Left: 0, Right: 1},
		{Op: ir.Guard, Left: 2},
	}
	out := NewPipeline().Run(trace)
	if out[2].Op != ir.DivInt {
		t.Fatalf("div by zero must not be folded away, got %+v", out[2])
	}
}
