package optimizer

import "sunscript/internal/ir"

// DeadStage eliminates IR producers that are never read by a sink:
// a guard, a table store, the trailing loopback, a snapshot, or a
// side-effecting call/yield (spec.md §4.5). It needs the whole trace
// to walk liveness backward, so it buffers every instruction in
// Forward and does the actual rewrite in Drain.
type DeadStage struct {
	refs []ir.Ref
	ins  map[ir.Ref]ir.Instruction
}

func (d *DeadStage) Forward(ref ir.Ref, ins ir.Instruction, out *Output) {
	if d.ins == nil {
		d.ins = make(map[ir.Ref]ir.Instruction)
	}
	d.refs = append(d.refs, ref)
	d.ins[ref] = ins
}

func isSink(op ir.Op) bool {
	switch op {
	case ir.Guard, ir.TableHSet, ir.TableASet, ir.Loopback, ir.Snap, ir.Call, ir.Yield:
		return true
	default:
		return false
	}
}

// hasOperands reports whether op consumes a Left and/or Right ref, so
// liveness propagation never follows a zero-valued Left/Right field on
// an instruction that never set it (ref 0 is itself a valid ref, so the
// zero value cannot double as "no operand").
func hasOperands(op ir.Op) (left, right bool) {
	switch op {
	case ir.AddInt, ir.SubInt, ir.MulInt, ir.DivInt,
		ir.AddReal, ir.SubReal, ir.MulReal, ir.DivReal,
		ir.CmpInt, ir.CmpReal, ir.CmpString, ir.CmpTable,
		ir.Phi,
		ir.AppIntString, ir.AppStringInt, ir.AppStringString, ir.AppStringReal, ir.AppRealString,
		ir.TableHSet, ir.TableASet:
		return true, true
	case ir.Guard, ir.UnaryMinusInt, ir.UnaryMinusReal, ir.ConvIntToReal,
		ir.IncrementInt, ir.DecrementInt, ir.IncrementReal, ir.DecrementReal,
		ir.TableHGet, ir.TableAGet, ir.TableHRef, ir.TableARef, ir.Unbox:
		return true, false
	default:
		return false, false
	}
}

func (d *DeadStage) Drain(out *Output) {
	live := make(map[ir.Ref]bool, len(d.refs))
	var mark func(ref ir.Ref)
	mark = func(ref ir.Ref) {
		if live[ref] {
			return
		}
		ins, ok := d.ins[ref]
		if !ok {
			return
		}
		live[ref] = true
		useLeft, useRight := hasOperands(ins.Op)
		if useLeft {
			mark(ins.Left)
		}
		if useRight {
			mark(ins.Right)
		}
	}
	for _, ref := range d.refs {
		if isSink(d.ins[ref].Op) {
			mark(ref)
		}
	}
	for _, ref := range d.refs {
		if live[ref] {
			out.emit(ref, d.ins[ref])
		} else {
			out.emit(ref, ir.Instruction{Op: ir.Nop})
		}
	}
}
