package vm

import (
	"encoding/binary"
	"math"
	"strings"
	"time"

	"sunscript/internal/bytecode"
	"sunscript/internal/jit"
	"sunscript/internal/optimizer"
	"sunscript/internal/sunerr"
	"sunscript/internal/trace"
	"sunscript/internal/value"
)

// Operand encodings (this package's own choice, since the original
// compiler frontend is out of scope — see DESIGN.md):
//
//	PUSH        type:u8 + typed immediate (int: i32 LE; real: SUN_REAL_SIZE bytes LE; string: u16 len + bytes)
//	POP         local:u8
//	PUSH_LOCAL  local:u8
//	SET         local:u8, type:u8 + typed immediate (int, real or string)
//	JUMP_*      type:u8, offset:i16 LE (relative to end of instruction)
//	CALL/CALLD  fid:u32 LE, numArgs:u8
//	CALLO/CALLM numArgs:u8
//	YIELD       fid:u32 LE, numArgs:u8
//	RETURN      hasValue:u8
//	TABLE_GET/SET key type is read from the popped key Value's own tag, not an immediate.
const (
	immInt    = byte(value.TyInt)
	immString = byte(value.TyString)
	immReal   = byte(value.TyReal)
)

func (v *VM) fetchByte() byte {
	b := v.image.Code[v.pc]
	v.pc++
	return b
}

func (v *VM) fetchI32() int32 {
	b := v.image.Code[v.pc : v.pc+4]
	v.pc += 4
	return int32(binary.LittleEndian.Uint32(b))
}

func (v *VM) fetchU32() uint32 {
	b := v.image.Code[v.pc : v.pc+4]
	v.pc += 4
	return binary.LittleEndian.Uint32(b)
}

func (v *VM) fetchI16() int16 {
	b := v.image.Code[v.pc : v.pc+2]
	v.pc += 2
	return int16(binary.LittleEndian.Uint16(b))
}

// fetchReal reads a real immediate at the VM's SUN_REAL_SIZE width (4
// bytes as float32, or 8 as float64, per Image.BuildFlags), always
// widening to float64 before boxing.
func (v *VM) fetchReal() float64 {
	if v.realSize == 4 {
		bits := binary.LittleEndian.Uint32(v.image.Code[v.pc : v.pc+4])
		v.pc += 4
		return float64(math.Float32frombits(bits))
	}
	bits := binary.LittleEndian.Uint64(v.image.Code[v.pc : v.pc+8])
	v.pc += 8
	return bitsToFloat(bits)
}

func (v *VM) fetchString() string {
	n := int(binary.LittleEndian.Uint16(v.image.Code[v.pc : v.pc+2]))
	v.pc += 2
	s := string(v.image.Code[v.pc : v.pc+n])
	v.pc += n
	return s
}

func (v *VM) push(val value.Value) { v.stack = append(v.stack, val) }

func (v *VM) pop() (value.Value, error) {
	if len(v.stack) == 0 {
		return value.Value{}, sunerr.New(sunerr.StackUnderflow, v.frame.FunctionName, v.frame.DebugLine, "operand stack underflow")
	}
	top := v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
	return top, nil
}

func (v *VM) fail(err error) bytecode.Status {
	v.log.Warnf("run: %v", err)
	v.status = bytecode.StatusError
	return v.status
}

// onTraceCompleted looks a freshly closed trace up in the trace cache;
// on a miss it runs the trace through the optimizer pipeline, offers it
// to the JIT backend, and caches the result by content digest only when
// the backend compiled it. With jit.NullBackend installed, CompileTrace
// always declines, nothing is cached, and the dispatcher simply keeps
// interpreting (spec.md §4.6).
func (v *VM) onTraceCompleted(t trace.Trace) {
	if ct, ok := v.cache.Lookup(t.Instructions); ok {
		v.log.Debugf("trace cache hit for func %d pc %d", t.FuncID, t.StartPC)
		_ = ct
		return
	}
	optimized := optimizer.NewPipeline().Run(t.Instructions)
	traceID := uint64(t.FuncID)<<32 | uint64(uint32(t.StartPC))
	ct, ok, err := v.backend.CompileTrace(v.jitInst, optimized, traceID)
	if err != nil {
		v.log.Warnf("compile_trace: %v", err)
		return
	}
	if !ok {
		return
	}
	v.cache.Store(t.Instructions, ct)
}

// localsSnapshot copies the active frame's locals for the recorder's
// PHI-seeding pass at a loop header.
func (v *VM) localsSnapshot() []value.Value {
	if v.frame == nil || v.frame.locals == nil {
		return nil
	}
	out := make([]value.Value, len(v.frame.locals.slots))
	copy(out, v.frame.locals.slots)
	return out
}

// dispatch is the fetch-decode-execute loop shared by Run, RunWithTimeout
// and Resume. deadline is nil for an untimed run.
func (v *VM) dispatch(deadline *time.Time) bytecode.Status {
	ticks := 0
	for {
		if v.frame == nil {
			v.status = bytecode.StatusOK
			return v.status
		}
		if deadline != nil {
			ticks++
			if ticks >= v.tickBudget {
				ticks = 0
				if time.Now().After(*deadline) {
					v.status = bytecode.StatusTimeout
					return v.status
				}
			}
		}

		raw := bytecode.Op(v.image.Code[v.pc])
		op := raw.Base()
		funcID := v.frame.FuncID
		startPC := v.pc
		v.pc++

		// A loop header always closes an in-flight recording on its
		// back-edge; starting a new recording is gated on the
		// profiler's hotness count so cold loops are never recorded
		// (spec.md §4.3's "Idle -> Recording" trigger, narrowed here to
		// avoid paying trace overhead on every single loop execution).
		if raw.IsLoopStart() {
			if v.sink.Active() {
				t := v.sink.OnLoopStart(funcID, startPC, v.localsSnapshot())
				if t.Completed() {
					v.onTraceCompleted(t)
				} else if t.AbortReason != "" {
					v.log.Debugf("trace aborted: %s", t.AbortReason)
				}
			} else if v.prof.RecordLoop(funcID, startPC) >= jit.TierTrace {
				v.sink.OnLoopStart(funcID, startPC, v.localsSnapshot())
			}
		} else if raw.IsTraceStart() && !v.sink.Active() {
			v.sink.OnTraceStart(funcID, startPC, v.localsSnapshot())
		}
		if setter, ok := v.sink.(interface{ SetPC(int) }); ok {
			setter.SetPC(startPC)
		}

		status, done, err := v.step(op)
		if err != nil {
			if v.sink.Active() {
				v.sink.Abort(sunerr.CodeOf(err).String())
			}
			return v.fail(err)
		}
		if done {
			v.status = status
			return status
		}
	}
}

// step executes one opcode, returning (status, terminal, err). terminal
// is true when the dispatch loop should stop and report status.
func (v *VM) step(op bytecode.Op) (bytecode.Status, bool, error) {
	switch op {
	case bytecode.OpDone:
		return v.opReturn(false)

	case bytecode.OpPush:
		return v.opPush()

	case bytecode.OpPop:
		local := v.fetchByte()
		val, err := v.pop()
		if err != nil {
			return 0, false, err
		}
		if v.sink.Active() {
			v.sink.RecordSetLocal(local, val)
		}
		return 0, false, v.frame.locals.Set(local, val)

	case bytecode.OpPushLocal:
		local := v.fetchByte()
		val, err := v.frame.locals.Get(local)
		if err != nil {
			return 0, false, err
		}
		if v.sink.Active() {
			v.sink.RecordPushLocal(local, val)
		}
		v.push(val)
		return 0, false, nil

	case bytecode.OpLocal:
		v.fetchString() // local name, debug-only at runtime
		return 0, false, nil

	case bytecode.OpSet:
		local := v.fetchByte()
		val, err := v.fetchImmediate()
		if err != nil {
			return 0, false, err
		}
		return 0, false, v.frame.locals.Set(local, val)

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv:
		return 0, false, v.opArith(op)

	case bytecode.OpUnaryMin:
		return 0, false, v.opUnaryMinus()

	case bytecode.OpIncrement, bytecode.OpDecrement:
		return 0, false, v.opIncDec(op)

	case bytecode.OpCmp:
		return 0, false, v.opCmp()

	case bytecode.OpJump:
		return 0, false, v.opJump()

	case bytecode.OpDup:
		if len(v.stack) == 0 {
			return 0, false, sunerr.New(sunerr.StackUnderflow, v.frame.FunctionName, v.frame.DebugLine, "DUP on empty stack")
		}
		v.push(v.stack[len(v.stack)-1])
		return 0, false, nil

	case bytecode.OpFormat:
		return 0, false, v.opFormat()

	case bytecode.OpTableNew:
		v.push(value.BoxTable(v.mm))
		return 0, false, nil

	case bytecode.OpTableGet:
		return 0, false, v.opTableGet()

	case bytecode.OpTableSet:
		return 0, false, v.opTableSet()

	case bytecode.OpPushFunc:
		id := v.fetchU32()
		v.push(value.BoxFunc(id))
		return 0, false, nil

	case bytecode.OpCall, bytecode.OpCallD:
		return v.opCall()

	case bytecode.OpCallO:
		return v.opCallIndirect(false)

	case bytecode.OpCallM:
		return v.opCallIndirect(true)

	case bytecode.OpYield:
		return v.opYield()

	case bytecode.OpReturn:
		hasValue := v.fetchByte() != 0
		return v.opReturn(hasValue)

	default:
		return 0, false, sunerr.New(sunerr.ProgramMalformed, v.frame.FunctionName, v.frame.DebugLine, "unrecognized opcode")
	}
}

func (v *VM) fetchImmediate() (value.Value, error) {
	switch v.fetchByte() {
	case immInt:
		return value.BoxInt(int64(v.fetchI32())), nil
	case immReal:
		return value.BoxReal(v.fetchReal()), nil
	case immString:
		return value.BoxString(v.mm, v.fetchString()), nil
	default:
		return value.Value{}, sunerr.New(sunerr.ProgramMalformed, v.frame.FunctionName, v.frame.DebugLine, "unknown immediate type tag")
	}
}

// abortIfRecording cancels an in-flight trace when the dispatcher hits
// an opcode the recorder has no Record* method for. Interpretation
// always continues unchanged — only the optimistic recording is given
// up (spec.md §4.3, "any uncommon event ... unsupported op").
func (v *VM) abortIfRecording(reason string) {
	if v.sink.Active() {
		v.sink.Abort(reason)
	}
}

func bitsToFloat(bits uint64) float64 { return math.Float64frombits(bits) }

func toReal(val value.Value) float64 {
	if value.IsReal(val) {
		return value.AsReal(val)
	}
	return float64(value.AsInt(val))
}

func (v *VM) arith(op bytecode.Op, lhs, rhs value.Value) (value.Value, error) {
	if (!value.IsInt(lhs) && !value.IsReal(lhs)) || (!value.IsInt(rhs) && !value.IsReal(rhs)) {
		return value.Value{}, sunerr.New(sunerr.TypeMismatch, v.frame.FunctionName, v.frame.DebugLine, "arithmetic requires numeric operands")
	}
	if value.IsReal(lhs) || value.IsReal(rhs) {
		l, r := toReal(lhs), toReal(rhs)
		switch op {
		case bytecode.OpAdd:
			return value.BoxReal(l + r), nil
		case bytecode.OpSub:
			return value.BoxReal(l - r), nil
		case bytecode.OpMul:
			return value.BoxReal(l * r), nil
		case bytecode.OpDiv:
			if r == 0 {
				return value.Value{}, sunerr.New(sunerr.DivideByZero, v.frame.FunctionName, v.frame.DebugLine, "division by zero")
			}
			return value.BoxReal(l / r), nil
		}
	}
	l, r := value.AsInt(lhs), value.AsInt(rhs)
	switch op {
	case bytecode.OpAdd:
		return value.BoxInt(l + r), nil
	case bytecode.OpSub:
		return value.BoxInt(l - r), nil
	case bytecode.OpMul:
		return value.BoxInt(l * r), nil
	case bytecode.OpDiv:
		if r == 0 {
			return value.Value{}, sunerr.New(sunerr.DivideByZero, v.frame.FunctionName, v.frame.DebugLine, "division by zero")
		}
		return value.BoxInt(l / r), nil
	}
	return value.Value{}, sunerr.New(sunerr.Internal, v.frame.FunctionName, v.frame.DebugLine, "unreachable arithmetic opcode")
}

func (v *VM) opArith(op bytecode.Op) error {
	rhs, err := v.pop()
	if err != nil {
		return err
	}
	lhs, err := v.pop()
	if err != nil {
		return err
	}

	var kind trace.ArithOp
	switch op {
	case bytecode.OpAdd:
		kind = trace.Add
	case bytecode.OpSub:
		kind = trace.Sub
	case bytecode.OpMul:
		kind = trace.Mul
	case bytecode.OpDiv:
		kind = trace.Div
	}
	v.sink.RecordArith(kind, lhs, rhs)

	result, err := v.arith(op, lhs, rhs)
	if err != nil {
		return err
	}
	v.push(result)
	return nil
}

func (v *VM) opUnaryMinus() error {
	val, err := v.pop()
	if err != nil {
		return err
	}
	v.abortIfRecording("unary minus not traced")
	switch {
	case value.IsInt(val):
		v.push(value.BoxInt(-value.AsInt(val)))
	case value.IsReal(val):
		v.push(value.BoxReal(-value.AsReal(val)))
	default:
		return sunerr.New(sunerr.TypeMismatch, v.frame.FunctionName, v.frame.DebugLine, "unary minus requires a numeric operand")
	}
	return nil
}

// opIncDec implements INCREMENT/DECREMENT as a pure top-of-stack unary
// step (no operand byte), matching its place in the opcode table right
// alongside UNARY_MINUS.
func (v *VM) opIncDec(op bytecode.Op) error {
	val, err := v.pop()
	if err != nil {
		return err
	}
	v.abortIfRecording("increment/decrement not traced")
	delta := 1
	if op == bytecode.OpDecrement {
		delta = -1
	}
	switch {
	case value.IsInt(val):
		v.push(value.BoxInt(value.AsInt(val) + int64(delta)))
	case value.IsReal(val):
		v.push(value.BoxReal(value.AsReal(val) + float64(delta)))
	default:
		return sunerr.New(sunerr.TypeMismatch, v.frame.FunctionName, v.frame.DebugLine, "increment/decrement requires a numeric operand")
	}
	return nil
}

// opCmp computes sign(left-right) for numerics, lexicographic order for
// strings, and pointer identity for tables (spec.md §4.2), storing the
// result for the next JUMP_*.
func (v *VM) opCmp() error {
	rhs, err := v.pop()
	if err != nil {
		return err
	}
	lhs, err := v.pop()
	if err != nil {
		return err
	}
	v.sink.RecordCompare(lhs, rhs)

	switch {
	case (value.IsInt(lhs) || value.IsReal(lhs)) && (value.IsInt(rhs) || value.IsReal(rhs)):
		diff := toReal(lhs) - toReal(rhs)
		v.cmpFlag = signOf(diff)
	case value.IsString(lhs) && value.IsString(rhs):
		sl, err := value.AsString(v.mm, lhs)
		if err != nil {
			return err
		}
		sr, err := value.AsString(v.mm, rhs)
		if err != nil {
			return err
		}
		v.cmpFlag = strings.Compare(sl.S, sr.S)
	case value.IsObject(lhs) && value.IsObject(rhs):
		eq, err := value.Equal(v.mm, lhs, rhs)
		if err != nil {
			return err
		}
		if eq {
			v.cmpFlag = 0
		} else {
			v.cmpFlag = 1
		}
	default:
		return sunerr.New(sunerr.TypeMismatch, v.frame.FunctionName, v.frame.DebugLine, "CMP operands are not comparable")
	}
	return nil
}

func signOf(f float64) int {
	switch {
	case f < 0:
		return -1
	case f > 0:
		return 1
	default:
		return 0
	}
}

func (v *VM) opJump() error {
	typ := bytecode.JumpType(v.fetchByte())
	offset := v.fetchI16()
	target := v.pc + int(offset)

	take := false
	switch typ {
	case bytecode.Jump:
		take = true
	case bytecode.JumpE:
		take = v.cmpFlag == 0
	case bytecode.JumpNE:
		take = v.cmpFlag != 0
	case bytecode.JumpGE:
		take = v.cmpFlag >= 0
	case bytecode.JumpLE:
		take = v.cmpFlag <= 0
	case bytecode.JumpL:
		take = v.cmpFlag < 0
	case bytecode.JumpG:
		take = v.cmpFlag > 0
	default:
		return sunerr.New(sunerr.ProgramMalformed, v.frame.FunctionName, v.frame.DebugLine, "unknown jump condition")
	}
	if take {
		if target < 0 || target > len(v.image.Code) {
			return sunerr.New(sunerr.ProgramMalformed, v.frame.FunctionName, v.frame.DebugLine, "jump target out of range")
		}
		v.pc = target
	}
	return nil
}

// opFormat pops two values, coerces each to its display string, and
// pushes their concatenation (spec.md §4.2's "string concatenation with
// type coercion").
func (v *VM) opFormat() error {
	rhs, err := v.pop()
	if err != nil {
		return err
	}
	lhs, err := v.pop()
	if err != nil {
		return err
	}
	v.abortIfRecording("format not traced")

	ls, err := value.ToDisplayString(v.mm, lhs)
	if err != nil {
		return err
	}
	rs, err := value.ToDisplayString(v.mm, rhs)
	if err != nil {
		return err
	}
	v.push(value.BoxString(v.mm, ls+rs))
	return nil
}

// opTableGet pops a key then a table, selecting the array or hash
// portion by the key's own tag.
func (v *VM) opTableGet() error {
	key, err := v.pop()
	if err != nil {
		return err
	}
	tableVal, err := v.pop()
	if err != nil {
		return err
	}
	v.abortIfRecording("table access not traced")

	tbl, err := value.AsTable(v.mm, tableVal)
	if err != nil {
		return err
	}
	switch {
	case value.IsInt(key):
		v.push(tbl.GetArray(value.AsInt(key)))
	case value.IsString(key):
		s, err := value.AsString(v.mm, key)
		if err != nil {
			return err
		}
		v.push(tbl.GetHash(s.S))
	default:
		return sunerr.New(sunerr.TypeMismatch, v.frame.FunctionName, v.frame.DebugLine, "table key must be int or string")
	}
	return nil
}

// opTableSet pops value, key, then table, in that order (matching the
// PUSH order table, key, value that a compiler would emit for `t[k]=v`).
func (v *VM) opTableSet() error {
	val, err := v.pop()
	if err != nil {
		return err
	}
	key, err := v.pop()
	if err != nil {
		return err
	}
	tableVal, err := v.pop()
	if err != nil {
		return err
	}
	v.abortIfRecording("table access not traced")

	tbl, err := value.AsTable(v.mm, tableVal)
	if err != nil {
		return err
	}
	switch {
	case value.IsInt(key):
		tbl.SetArray(value.AsInt(key), val)
	case value.IsString(key):
		s, err := value.AsString(v.mm, key)
		if err != nil {
			return err
		}
		tbl.SetHash(s.S, val)
	default:
		return sunerr.New(sunerr.TypeMismatch, v.frame.FunctionName, v.frame.DebugLine, "table key must be int or string")
	}
	return nil
}

// collectArgs pops n values and returns them in push order (args[0] is
// the first one the caller pushed).
func (v *VM) collectArgs(n int) ([]value.Value, error) {
	args := make([]value.Value, n)
	for i := n - 1; i >= 0; i-- {
		val, err := v.pop()
		if err != nil {
			return nil, err
		}
		args[i] = val
	}
	return args, nil
}

// opCall handles both OP_CALL and OP_CALLD: the original compiler emits
// near-identical {func id, numArgs} operands for both (see DESIGN.md),
// so this dispatcher treats them identically.
func (v *VM) opCall() (bytecode.Status, bool, error) {
	fid := v.fetchU32()
	numArgs := int(v.fetchByte())
	v.abortIfRecording("call not traced")

	args, err := v.collectArgs(numArgs)
	if err != nil {
		return 0, false, err
	}
	return v.invoke(fid, args)
}

// opCallIndirect handles OP_CALLO (operand-as-callee) and OP_CALLM
// (method call). CALLO pops a TyFunc callee plus n args; CALLM also
// pops a receiver table, which is passed as an implicit first argument
// (see DESIGN.md's resolution of this underspecified encoding).
func (v *VM) opCallIndirect(method bool) (bytecode.Status, bool, error) {
	numArgs := int(v.fetchByte())
	v.abortIfRecording("indirect call not traced")

	args, err := v.collectArgs(numArgs)
	if err != nil {
		return 0, false, err
	}
	callee, err := v.pop()
	if err != nil {
		return 0, false, err
	}
	if !value.IsFunc(callee) {
		return 0, false, sunerr.New(sunerr.TypeMismatch, v.frame.FunctionName, v.frame.DebugLine, "callee operand is not a function value")
	}
	if method {
		receiver, err := v.pop()
		if err != nil {
			return 0, false, err
		}
		args = append([]value.Value{receiver}, args...)
	}
	return v.invoke(value.AsFuncID(callee), args)
}

// invoke dispatches to an internal function (pushing a new Frame) or an
// external one (populating the host handler protocol), per spec.md
// §4.2's CALL stack-effect row.
func (v *VM) invoke(fid uint32, args []value.Value) (bytecode.Status, bool, error) {
	fn, err := v.image.Function(fid)
	if err != nil {
		return 0, false, err
	}

	if fn.Kind == bytecode.FunctionExternal {
		v.call = callContext{name: fn.Name, args: args}
		if v.handler == nil {
			return 0, false, sunerr.New(sunerr.HandlerError, fn.Name, v.frame.DebugLine, "no handler installed for external function")
		}
		status := v.handler(v)
		if status != bytecode.StatusOK {
			return 0, false, sunerr.New(sunerr.HandlerError, fn.Name, v.frame.DebugLine, "external handler returned a non-OK status")
		}
		if v.call.hasResult {
			v.push(v.call.result)
		}
		return 0, false, nil
	}

	v.frame.PC = v.pc
	callee := &Frame{
		FunctionName: fn.Name,
		FuncID:       fn.ID,
		NumArgs:      len(args),
		locals:       newActivationRecord(v.locals[fn.ID]),
		Next:         v.frame,
	}
	for i, a := range args {
		if i >= len(callee.locals.slots) {
			break
		}
		callee.locals.slots[i] = a
	}
	v.frame = callee
	v.pc = int(fn.EntryOffset)
	return 0, false, nil
}

// opYield pops its n arguments into the call context for the host to
// read via GetCallName/GetParam*, then suspends with the stacks intact.
// PC is already past this instruction, so Resume restarts exactly there.
func (v *VM) opYield() (bytecode.Status, bool, error) {
	fid := v.fetchU32()
	numArgs := int(v.fetchByte())
	v.abortIfRecording("yield not traced")

	args, err := v.collectArgs(numArgs)
	if err != nil {
		return 0, false, err
	}
	name := ""
	if fn, err := v.image.Function(fid); err == nil {
		name = fn.Name
	}
	v.call = callContext{name: name, args: args}
	return bytecode.StatusYielded, true, nil
}

// opReturn unlinks the active frame. hasValue reports whether a return
// value should be popped off the caller's operand stack and pushed back
// for the resumed caller (or left as the program's final result at the
// outermost frame).
func (v *VM) opReturn(hasValue bool) (bytecode.Status, bool, error) {
	var retVal value.Value
	if hasValue {
		var err error
		retVal, err = v.pop()
		if err != nil {
			return 0, false, err
		}
	}

	if v.frame.Next == nil {
		v.frame = nil
		if hasValue {
			v.push(retVal)
		}
		return bytecode.StatusOK, true, nil
	}

	caller := v.frame.Next
	v.frame = caller
	v.pc = caller.PC
	if hasValue {
		v.push(retVal)
	}
	return 0, false, nil
}

func (v *VM) opPush() (bytecode.Status, bool, error) {
	typ := v.fetchByte()
	switch typ {
	case immInt:
		n := int64(v.fetchI32())
		if v.sink.Active() {
			v.sink.RecordPushInt(n)
		}
		v.push(value.BoxInt(n))
	case immReal:
		f := v.fetchReal()
		if v.sink.Active() {
			v.sink.RecordPushReal(f)
		}
		v.push(value.BoxReal(f))
	case immString:
		s := v.fetchString()
		v.push(value.BoxString(v.mm, s))
	default:
		return 0, false, sunerr.New(sunerr.ProgramMalformed, v.frame.FunctionName, v.frame.DebugLine, "unknown PUSH immediate type")
	}
	return 0, false, nil
}
