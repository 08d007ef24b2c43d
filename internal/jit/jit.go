// Package jit defines the JIT boundary: a small vtable-style interface
// between the bytecode dispatcher and an optional trace compiler
// backend (spec.md §4.6). A NullBackend is always available so
// interpretation-only execution is correct with no JIT installed at all.
package jit

import (
	"sunscript/internal/bytecode"
	"sunscript/internal/ir"
)

// Instance is an opaque compiler-backend handle, returned by Initialize
// and threaded through every later call — mirroring the original
// vtable's `void* instance` parameter without Go's unsafe.Pointer.
type Instance interface{}

// CompiledTrace is a backend's compiled form of a trace. Backends are
// free to embed arbitrary state; the dispatcher treats it opaquely.
type CompiledTrace struct {
	TraceID  uint64
	Snapshot int // last IR_SNAP id compiled into this trace, for guard exits
	Backend  interface{}
}

// ExecResult reports how a compiled trace's execution ended.
type ExecResult struct {
	Status Status

	// GuardFailed indicates the trace exited early through a guard. The
	// dispatcher must restore interpreter state from SnapshotID and
	// resume interpretation at the snapshot's bytecode PC (spec.md I4).
	GuardFailed bool
	SnapshotID  int
}

// Status mirrors the VM's run status so a JIT backend never needs to
// import internal/vm to report one.
type Status = bytecode.Status

// Jit is the compiler-backend vtable. Every method corresponds 1:1 to
// the original jit_initialize/jit_compile_trace/jit_execute/jit_resume/
// jit_shutdown function-pointer table.
type Jit interface {
	// Initialize prepares a fresh backend instance.
	Initialize() (Instance, error)

	// CompileTrace attempts to compile the given IR trace. ok is false
	// (with a nil error) when the backend declines to compile — the
	// dispatcher then continues interpreting, per the null-backend
	// contract. A non-nil error indicates a backend failure distinct
	// from a deliberate decline.
	CompileTrace(inst Instance, trace []ir.Instruction, traceID uint64) (ct CompiledTrace, ok bool, err error)

	// Execute runs a previously compiled trace to completion or to its
	// first guard failure.
	Execute(inst Instance, ct CompiledTrace) (ExecResult, error)

	// Resume continues a compiled trace previously left PAUSED/YIELDED.
	Resume(inst Instance) (ExecResult, error)

	// Shutdown releases backend resources.
	Shutdown(inst Instance)
}
