package trace

import (
	"github.com/google/uuid"

	"sunscript/internal/ir"
	"sunscript/internal/value"
)

// Recorder implements Sink. It shadows the VM's operand stack with a
// parallel stack of ir.Ref values, so each interpreted push/pop is
// mirrored by a corresponding IR producer/consumer edge.
type Recorder struct {
	state   State
	traceID uuid.UUID
	funcID  uint32
	startPC int

	buf   *ir.Buffer
	stack []ir.Ref // shadow operand stack

	// localRef tracks which IR ref currently represents each local's
	// value. At loop entry this holds the PHI "pre" refs; during the
	// body it is updated by RecordSetLocal to the value computed so
	// far, and at Loopback time it supplies the PHI "post" operand.
	localRef map[byte]ir.Ref
	phiPre   map[byte]ir.Ref
	// dynamic marks refs whose type is not known to be invariant across
	// loop iterations (locals and PHI results) — these require a guard
	// before any type-sensitive consumer.
	dynamic map[ir.Ref]bool

	lastAbortReason string

	snapshots *SnapshotStore
	pc        int // current bytecode PC, for snapshot provenance
}

func NewRecorder() *Recorder {
	return &Recorder{state: Idle, buf: ir.NewBuffer(), snapshots: NewSnapshotStore()}
}

// Snapshots exposes the recorder's snapshot store, for the JIT boundary
// to resolve a guard failure's snapshot id back to an activation
// record layout.
func (r *Recorder) Snapshots() *SnapshotStore { return r.snapshots }

// SetPC tells the recorder the bytecode PC of the instruction about to
// be mirrored, so any snapshot taken before its guard carries the
// right restart point.
func (r *Recorder) SetPC(pc int) { r.pc = pc }

func (r *Recorder) State() State { return r.state }
func (r *Recorder) Active() bool { return r.state == Recording }

func (r *Recorder) reset() {
	r.buf = ir.NewBuffer()
	r.stack = nil
	r.localRef = make(map[byte]ir.Ref)
	r.phiPre = make(map[byte]ir.Ref)
	r.dynamic = make(map[ir.Ref]bool)
	r.snapshots.Reset()
}

func (r *Recorder) emit(ins ir.Instruction) ir.Ref {
	if r.state != Recording {
		return -1
	}
	ref, err := r.buf.Write(ins, ins.Left, ins.Right)
	if err != nil {
		// The ring is a fixed 64 slots (spec.md §4.4); a trace this long
		// aborts rather than growing unbounded.
		r.Abort("ir buffer full")
		return -1
	}
	return ref
}

// drain reads every instruction out of the ring in write order, for
// handing a completed recording to the optimizer pipeline as a plain
// slice. Read is destructive, but the caller always immediately resets
// the recorder after draining, so nothing else observes the now-empty
// ring.
func (r *Recorder) drain() []ir.Instruction {
	out := make([]ir.Instruction, 0, r.buf.Len())
	for {
		ins, _, ok := r.buf.Read()
		if !ok {
			break
		}
		out = append(out, ins)
	}
	return out
}

func (r *Recorder) push(ref ir.Ref) { r.stack = append(r.stack, ref) }

func (r *Recorder) pop() ir.Ref {
	if len(r.stack) == 0 {
		return -1
	}
	ref := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	return ref
}

// OnLoopStart begins recording at an idle loop header, or closes the
// trace when the same header is reached again via a back-edge.
func (r *Recorder) OnLoopStart(funcID uint32, pc int, locals []value.Value) Trace {
	switch {
	case r.state == Idle:
		r.state = Recording
		r.traceID = uuid.New()
		r.funcID, r.startPC = funcID, pc
		r.localRef = make(map[byte]ir.Ref, len(locals))
		r.phiPre = make(map[byte]ir.Ref, len(locals))
		r.dynamic = make(map[ir.Ref]bool)
		r.emit(ir.Instruction{Op: ir.LoopStart})
		for i, v := range locals {
			ref := r.loadLocalValue(byte(i), v)
			r.localRef[byte(i)] = ref
			r.phiPre[byte(i)] = ref
			r.dynamic[ref] = true
		}
		return Trace{}

	case r.state == Recording && funcID == r.funcID && pc == r.startPC:
		for local, pre := range r.phiPre {
			post := r.localRef[local]
			if post != pre {
				ref := r.emit(ir.Instruction{Op: ir.Phi, Left: pre, Right: post})
				r.dynamic[ref] = true
			}
		}
		r.emit(ir.Instruction{Op: ir.Loopback})
		t := Trace{ID: r.traceID, FuncID: r.funcID, StartPC: r.startPC, Instructions: r.drain()}
		r.state = Idle
		r.reset()
		return t

	case r.state == Recording:
		r.Abort("nested loop header")
		return Trace{ID: r.traceID, FuncID: r.funcID, StartPC: r.startPC, AbortReason: r.lastAbortReason}

	default:
		return Trace{}
	}
}

// OnTraceStart begins a linear side trace at a hot call site or guard
// exit. Unlike OnLoopStart it never inserts PHI nodes — a side trace
// runs once through and re-enters the interpreter, rather than closing
// a back-edge.
func (r *Recorder) OnTraceStart(funcID uint32, pc int, locals []value.Value) {
	if r.state != Idle {
		return
	}
	r.state = Recording
	r.traceID = uuid.New()
	r.funcID, r.startPC = funcID, pc
	r.localRef = make(map[byte]ir.Ref, len(locals))
	r.dynamic = make(map[ir.Ref]bool)
	for i, v := range locals {
		ref := r.loadLocalValue(byte(i), v)
		r.localRef[byte(i)] = ref
		r.dynamic[ref] = true
	}
}

// TraceID reports the id assigned when the current or most recent
// recording began; it is the zero UUID until the first recording starts.
func (r *Recorder) TraceID() uuid.UUID { return r.traceID }

func (r *Recorder) loadLocalValue(local byte, v value.Value) ir.Ref {
	switch v.Tag {
	case value.TyReal:
		return r.emit(ir.Instruction{Op: ir.LoadRealLocal, C: local, ResultType: byte(value.TyReal)})
	case value.TyString:
		return r.emit(ir.Instruction{Op: ir.LoadStringLocal, C: local, ResultType: byte(value.TyString)})
	case value.TyObject:
		return r.emit(ir.Instruction{Op: ir.LoadTableLocal, C: local, ResultType: byte(value.TyObject)})
	default:
		return r.emit(ir.Instruction{Op: ir.LoadIntLocal, C: local, ResultType: byte(value.TyInt)})
	}
}

func (r *Recorder) RecordPushInt(v int64) {
	if !r.Active() {
		return
	}
	r.push(r.emit(ir.Instruction{Op: ir.LoadInt, A: int32(v), ResultType: byte(value.TyInt)}))
}

func (r *Recorder) RecordPushReal(v float64) {
	if !r.Active() {
		return
	}
	r.push(r.emit(ir.Instruction{Op: ir.LoadReal, ResultType: byte(value.TyReal)}))
}

func (r *Recorder) RecordPushLocal(local byte, v value.Value) {
	if !r.Active() {
		return
	}
	ref, ok := r.localRef[local]
	if !ok {
		ref = r.loadLocalValue(local, v)
		r.dynamic[ref] = true
	}
	r.push(ref)
}

func (r *Recorder) RecordSetLocal(local byte, v value.Value) {
	if !r.Active() {
		return
	}
	ref := r.pop()
	if r.localRef == nil {
		r.localRef = make(map[byte]ir.Ref)
	}
	r.localRef[local] = ref
}

func (r *Recorder) maybeGuard(ref ir.Ref, tag value.Tag) {
	if !r.dynamic[ref] {
		return
	}
	entries := make([]SnapshotEntry, 0, len(r.localRef))
	for local, lref := range r.localRef {
		entries = append(entries, SnapshotEntry{Local: local, Ref: lref})
	}
	snapID := r.snapshots.Add(r.pc, entries)
	r.emit(ir.Instruction{Op: ir.Snap, A: int32(snapID)})
	guardRef := r.emit(ir.Instruction{Op: ir.Guard, C: snapID8(snapID), ResultType: byte(tag), Left: ref})
	r.dynamic[guardRef] = false
}

// snapID8 narrows a snapshot id into the Guard instruction's single
// byte C field. Recordings that accumulate more than 255 guards in one
// trace are beyond this interpreter's trace length in practice (a
// recording aborts once it fills the 64-slot IR buffer); the id is also
// available in full precision on the preceding IR_SNAP's A field.
func snapID8(id int) byte {
	return byte(id)
}

func (r *Recorder) RecordArith(kind ArithOp, left, right value.Value) {
	if !r.Active() {
		return
	}
	rhs := r.pop()
	lhs := r.pop()
	r.maybeGuard(lhs, left.Tag)
	r.maybeGuard(rhs, right.Tag)

	promote := left.Tag == value.TyReal || right.Tag == value.TyReal
	if promote && left.Tag == value.TyInt {
		lhs = r.emit(ir.Instruction{Op: ir.ConvIntToReal, Left: lhs})
	}
	if promote && right.Tag == value.TyInt {
		rhs = r.emit(ir.Instruction{Op: ir.ConvIntToReal, Left: rhs})
	}

	var op ir.Op
	var resultType value.Tag
	switch {
	case promote:
		op = map[ArithOp]ir.Op{Add: ir.AddReal, Sub: ir.SubReal, Mul: ir.MulReal, Div: ir.DivReal}[kind]
		resultType = value.TyReal
	default:
		op = map[ArithOp]ir.Op{Add: ir.AddInt, Sub: ir.SubInt, Mul: ir.MulInt, Div: ir.DivInt}[kind]
		resultType = value.TyInt
	}
	ref := r.emit(ir.Instruction{Op: op, Left: lhs, Right: rhs, ResultType: byte(resultType)})
	r.dynamic[ref] = true
	r.push(ref)
}

func (r *Recorder) RecordCompare(left, right value.Value) {
	if !r.Active() {
		return
	}
	rhs := r.pop()
	lhs := r.pop()
	r.maybeGuard(lhs, left.Tag)
	r.maybeGuard(rhs, right.Tag)

	var op ir.Op
	switch {
	case left.Tag == value.TyReal || right.Tag == value.TyReal:
		op = ir.CmpReal
	case left.Tag == value.TyString:
		op = ir.CmpString
	case left.Tag == value.TyObject:
		op = ir.CmpTable
	default:
		op = ir.CmpInt
	}
	r.emit(ir.Instruction{Op: op, Left: lhs, Right: rhs})
}

func (r *Recorder) Abort(reason string) {
	r.state = Aborted
	r.lastAbortReason = reason
	r.reset()
	r.state = Idle
}

// LastAbortReason reports why the most recent recording was abandoned,
// for diagnostics.
func (r *Recorder) LastAbortReason() string { return r.lastAbortReason }
