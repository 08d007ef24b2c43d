package jit

import (
	"sunscript/internal/bytecode"
	"sunscript/internal/ir"
)

// NullBackend is the always-available JIT backend: it never compiles,
// so every trace falls back to interpretation. Installing it (or
// installing no backend at all) must leave execution semantics
// unchanged from a fully-interpreted run (spec.md §4.6).
type NullBackend struct{}

func (NullBackend) Initialize() (Instance, error) { return nil, nil }

func (NullBackend) CompileTrace(Instance, []ir.Instruction, uint64) (CompiledTrace, bool, error) {
	return CompiledTrace{}, false, nil
}

func (NullBackend) Execute(Instance, CompiledTrace) (ExecResult, error) {
	return ExecResult{Status: bytecode.StatusError}, nil
}

func (NullBackend) Resume(Instance) (ExecResult, error) {
	return ExecResult{Status: bytecode.StatusError}, nil
}

func (NullBackend) Shutdown(Instance) {}
