// Package trace implements the Trace Recorder: it watches bytecode
// execution at loop headers and hot call sites, emits an IR trace
// (spec.md §3, §4.3), and hands completed traces to the JIT boundary
// for optimization and compilation.
//
// The dispatcher (internal/vm) never references Recorder directly — it
// only holds a Sink, so swapping recorders or disabling recording
// entirely never changes interpreter semantics.
package trace

import (
	"github.com/google/uuid"

	"sunscript/internal/ir"
	"sunscript/internal/value"
)

// State is the recorder's position in its Idle→Recording→
// (Completed|Aborted) state machine.
type State int

const (
	Idle State = iota
	Recording
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Recording:
		return "Recording"
	case Completed:
		return "Completed"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Sink is the interface the dispatcher calls into on every executed
// opcode at a recordable site. It decouples internal/vm from any
// concrete recorder implementation.
type Sink interface {
	// OnLoopStart is called when the dispatcher fetches an opcode
	// carrying MK_LOOPSTART. If Idle, this begins recording; if already
	// Recording the loop header whose PC matches the recording's start
	// PC, this closes the trace with IR_LOOPBACK.
	OnLoopStart(funcID uint32, pc int, locals []value.Value) Trace

	// OnTraceStart is called on MK_TRACESTART, beginning a side trace
	// from a guard-exit or hot non-loop call site.
	OnTraceStart(funcID uint32, pc int, locals []value.Value)

	// Active reports whether a trace is currently being recorded —
	// the dispatcher uses this to decide whether ordinary (non-marked)
	// opcodes should also be mirrored into the recorder.
	Active() bool

	// RecordPushInt/RecordPushReal/RecordPushLocal/RecordSetLocal/
	// RecordArith/RecordCompare mirror one interpreted step into the
	// in-flight trace. They are no-ops when Active() is false.
	RecordPushInt(v int64)
	RecordPushReal(v float64)
	RecordPushLocal(local byte, v value.Value)
	RecordSetLocal(local byte, v value.Value)
	RecordArith(kind ArithOp, left, right value.Value)
	RecordCompare(left, right value.Value)

	// Abort cancels the in-flight trace, discarding any recorded IR.
	// Called when the dispatcher hits an opcode the recorder cannot
	// represent (e.g. a CALL into another function).
	Abort(reason string)
}

// ArithOp names an arithmetic opcode independent of bytecode.Op, so
// this package does not need to import internal/bytecode's full opcode
// set just to switch on four of them.
type ArithOp int

const (
	Add ArithOp = iota
	Sub
	Mul
	Div
)

// Trace is a prefix of IR ending at IR_LOOPBACK or a side exit
// (spec.md §3). A zero-value Trace (Instructions == nil) signals "no
// trace completed this step" to OnLoopStart's caller.
type Trace struct {
	ID           uuid.UUID // assigned when recording begins, for correlating inspector events and profile-store rows across concurrently running VMs
	FuncID       uint32
	StartPC      int
	Instructions []ir.Instruction
	AbortReason  string
}

func (t Trace) Completed() bool { return len(t.Instructions) > 0 && t.AbortReason == "" }
