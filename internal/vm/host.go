package vm

import (
	"sunscript/internal/bytecode"
	"sunscript/internal/memory"
	"sunscript/internal/sunerr"
	"sunscript/internal/value"
)

// Handler dispatches an external function call named by the active
// call context. It must return StatusOK on success; any other status
// is surfaced to the caller of Run/Resume as a HandlerError (spec.md §7).
type Handler func(vm *VM) bytecode.Status

// callContext is populated before an external CALL/CALLD/YIELD and read
// by the handler through GetCallName/GetCallNumArgs/GetParam*, then
// written back through PushReturnValue — the "host handler protocol"
// from spec.md §4.2.
type callContext struct {
	name      string
	args      []value.Value
	nextParam int
	result    value.Value
	hasResult bool
}

// GetCallName reports the name of the function the host is being asked
// to handle.
func (v *VM) GetCallName() string {
	return v.call.name
}

// GetCallNumArgs reports the call's argument count.
func (v *VM) GetCallNumArgs() int {
	return len(v.call.args)
}

// GetParamInt consumes the next call argument as an int, in the order
// the arguments were pushed.
func (v *VM) GetParamInt() (int64, error) {
	v2, err := v.nextParam()
	if err != nil {
		return 0, err
	}
	if !value.IsInt(v2) {
		return 0, sunerr.New(sunerr.TypeMismatch, v.call.name, 0, "expected int parameter")
	}
	return value.AsInt(v2), nil
}

// GetParamReal consumes the next call argument as a real.
func (v *VM) GetParamReal() (float64, error) {
	v2, err := v.nextParam()
	if err != nil {
		return 0, err
	}
	if !value.IsReal(v2) {
		return 0, sunerr.New(sunerr.TypeMismatch, v.call.name, 0, "expected real parameter")
	}
	return value.AsReal(v2), nil
}

// GetParamString consumes the next call argument as a string.
func (v *VM) GetParamString() (string, error) {
	v2, err := v.nextParam()
	if err != nil {
		return "", err
	}
	s, err := value.AsString(v.mm, v2)
	if err != nil {
		return "", err
	}
	return s.S, nil
}

// GetParam consumes the next call argument without a type check, for
// handlers that dispatch on the value's own tag.
func (v *VM) GetParam() (value.Value, error) {
	return v.nextParam()
}

func (v *VM) nextParam() (value.Value, error) {
	if v.call.nextParam >= len(v.call.args) {
		return value.Value{}, sunerr.New(sunerr.Internal, v.call.name, 0, "no more call parameters")
	}
	p := v.call.args[v.call.nextParam]
	v.call.nextParam++
	return p, nil
}

// PushReturnValue records value v as the external call's result, pushed
// onto the operand stack once the handler returns StatusOK.
func (v *VM) PushReturnValue(val value.Value) {
	v.call.result = val
	v.call.hasResult = true
}

// PushReturnInt is a convenience wrapper over PushReturnValue.
func (v *VM) PushReturnInt(i int64) { v.PushReturnValue(value.BoxInt(i)) }

// PushReturnString is a convenience wrapper over PushReturnValue.
func (v *VM) PushReturnString(s string) { v.PushReturnValue(value.BoxString(v.mm, s)) }

// MemoryManager exposes the VM's arena, for handlers that need to box
// strings or tables into return values.
func (v *VM) MemoryManager() *memory.Manager { return v.mm }
