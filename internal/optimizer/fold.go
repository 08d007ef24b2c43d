package optimizer

import "sunscript/internal/ir"

// FoldStage performs constant folding and algebraic simplification on
// integer arithmetic (spec.md §4.5). Real-valued folding is skipped:
// this pipeline's IR_LOAD_REAL carries no inline constant (real
// literals live in the out-of-scope compiler's constant pool, indexed
// by byte offset), so the fold stage has no value to fold against —
// see DESIGN.md.
type FoldStage struct{}

func (f *FoldStage) Forward(ref ir.Ref, ins ir.Instruction, out *Output) {
	switch ins.Op {
	case ir.AddInt, ir.SubInt, ir.MulInt, ir.DivInt:
		if folded, ok := f.tryFold(ins, out); ok {
			out.emit(ref, folded)
			return
		}
	}
	out.emit(ref, ins)
}

func (f *FoldStage) Drain(out *Output) {}

func (f *FoldStage) tryFold(ins ir.Instruction, out *Output) (ir.Instruction, bool) {
	left, lok := out.At(ins.Left)
	right, rok := out.At(ins.Right)
	leftConst := lok && left.Op == ir.LoadInt
	rightConst := rok && right.Op == ir.LoadInt

	if leftConst && rightConst {
		a, b := left.A, right.A
		switch ins.Op {
		case ir.AddInt:
			return loadInt(a + b), true
		case ir.SubInt:
			return loadInt(a - b), true
		case ir.MulInt:
			return loadInt(a * b), true
		case ir.DivInt:
			if b == 0 {
				return ins, false // non-foldable: DIV by zero must still fault at runtime
			}
			return loadInt(a / b), true
		}
	}

	if rightConst {
		switch {
		case (ins.Op == ir.AddInt || ins.Op == ir.SubInt) && right.A == 0:
			return left, true
		case ins.Op == ir.MulInt && right.A == 1:
			return left, true
		case ins.Op == ir.MulInt && right.A == 0:
			return loadInt(0), true
		}
	}
	if leftConst {
		switch {
		case ins.Op == ir.AddInt && left.A == 0:
			return right, true
		case ins.Op == ir.MulInt && left.A == 1:
			return right, true
		case ins.Op == ir.MulInt && left.A == 0:
			return loadInt(0), true
		}
	}
	return ins, false
}

func loadInt(v int32) ir.Instruction {
	return ir.Instruction{Op: ir.LoadInt, A: v, ResultType: 0x1}
}
