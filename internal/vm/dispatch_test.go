package vm

import (
	"testing"
	"time"

	"sunscript/internal/bytecode"
	"sunscript/internal/value"
)

func pushInt(n int32) []byte {
	b := []byte{byte(bytecode.OpPush), byte(value.TyInt)}
	b = append(b, i32le(n)...)
	return b
}

func i32le(n int32) []byte {
	u := uint32(n)
	return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
}

func i16le(n int16) []byte {
	u := uint16(n)
	return []byte{byte(u), byte(u >> 8)}
}

func u32le(n uint32) []byte {
	return []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
}

func returnVal() []byte { return []byte{byte(bytecode.OpReturn), 1} }

func buildSingleFuncImage(body []byte) []byte {
	enc := bytecode.NewEncoder(bytecode.BuildFlagDouble)
	enc.AddInternal(0, 0, body)
	return enc.Encode()
}

func TestArithmeticLiteral(t *testing.T) {
	var body []byte
	body = append(body, pushInt(2)...)
	body = append(body, pushInt(3)...)
	body = append(body, byte(bytecode.OpAdd))
	body = append(body, returnVal()...)

	v := New()
	if st := v.LoadProgram(buildSingleFuncImage(body)); st != bytecode.StatusOK {
		t.Fatalf("LoadProgram = %v", st)
	}
	if st := v.Run(); st != bytecode.StatusOK {
		t.Fatalf("Run = %v", st)
	}
	if len(v.stack) != 1 || !value.IsInt(v.stack[0]) || value.AsInt(v.stack[0]) != 5 {
		t.Fatalf("stack = %+v, want [5]", v.stack)
	}
}

func TestDivideByZero(t *testing.T) {
	var body []byte
	body = append(body, pushInt(1)...)
	body = append(body, pushInt(0)...)
	body = append(body, byte(bytecode.OpDiv))
	body = append(body, returnVal()...)

	v := New()
	v.LoadProgram(buildSingleFuncImage(body))
	if st := v.Run(); st != bytecode.StatusError {
		t.Fatalf("Run = %v, want StatusError", st)
	}
}

func TestConditionalJump(t *testing.T) {
	// if 5 > 3, push 111 else push 222; return it.
	var body []byte
	body = append(body, pushInt(5)...)
	body = append(body, pushInt(3)...)
	body = append(body, byte(bytecode.OpCmp))

	jump := []byte{byte(bytecode.OpJump), byte(bytecode.JumpG)}
	elseBranch := append(pushInt(222), returnVal()...)
	jump = append(jump, i16le(int16(len(elseBranch)))...)
	body = append(body, jump...)
	body = append(body, elseBranch...)
	body = append(body, pushInt(111)...)
	body = append(body, returnVal()...)

	v := New()
	v.LoadProgram(buildSingleFuncImage(body))
	if st := v.Run(); st != bytecode.StatusOK {
		t.Fatalf("Run = %v", st)
	}
	if value.AsInt(v.stack[0]) != 111 {
		t.Fatalf("stack[0] = %v, want 111 (condition should take the greater-than branch)", value.AsInt(v.stack[0]))
	}
}

func TestYieldResume(t *testing.T) {
	enc := bytecode.NewEncoder(bytecode.BuildFlagDouble)
	enc.AddExternal(1, 0, "host_sink")
	var body []byte
	body = append(body, byte(bytecode.OpYield))
	body = append(body, u32le(1)...)
	body = append(body, 0) // numArgs
	body = append(body, pushInt(42)...)
	body = append(body, returnVal()...)
	enc.AddInternal(0, 0, body)

	v := New()
	v.LoadProgram(enc.Encode())
	if st := v.Run(); st != bytecode.StatusYielded {
		t.Fatalf("Run = %v, want StatusYielded", st)
	}
	if st := v.Resume(); st != bytecode.StatusOK {
		t.Fatalf("Resume = %v", st)
	}
	if value.AsInt(v.stack[0]) != 42 {
		t.Fatalf("stack[0] = %v, want 42 after resume", value.AsInt(v.stack[0]))
	}
}

func localDecl(name string) []byte {
	b := []byte{byte(bytecode.OpLocal)}
	b = append(b, byte(len(name)), 0)
	return append(b, name...)
}

func pushLocal(i byte) []byte { return []byte{byte(bytecode.OpPushLocal), i} }
func popLocal(i byte) []byte  { return []byte{byte(bytecode.OpPop), i} }

func TestTableSum(t *testing.T) {
	// t = {}; t[0] = 1; t[1] = 2; return t[0] + t[1]  (locals: 0=t, 1=v0)
	var body []byte
	body = append(body, localDecl("t")...)
	body = append(body, localDecl("v0")...)
	body = append(body, byte(bytecode.OpTableNew))
	body = append(body, popLocal(0)...)

	body = append(body, pushLocal(0)...)
	body = append(body, pushInt(0)...)
	body = append(body, pushInt(1)...)
	body = append(body, byte(bytecode.OpTableSet))

	body = append(body, pushLocal(0)...)
	body = append(body, pushInt(1)...)
	body = append(body, pushInt(2)...)
	body = append(body, byte(bytecode.OpTableSet))

	body = append(body, pushLocal(0)...)
	body = append(body, pushInt(0)...)
	body = append(body, byte(bytecode.OpTableGet))
	body = append(body, popLocal(1)...)

	body = append(body, pushLocal(0)...)
	body = append(body, pushInt(1)...)
	body = append(body, byte(bytecode.OpTableGet))
	body = append(body, pushLocal(1)...)
	body = append(body, byte(bytecode.OpAdd))
	body = append(body, returnVal()...)

	v := New()
	if st := v.LoadProgram(buildSingleFuncImage(body)); st != bytecode.StatusOK {
		t.Fatalf("LoadProgram = %v", st)
	}
	if st := v.Run(); st != bytecode.StatusOK {
		t.Fatalf("Run = %v", st)
	}
	if value.AsInt(v.stack[0]) != 3 {
		t.Fatalf("stack[0] = %v, want 3 (t[0]+t[1] = 1+2)", value.AsInt(v.stack[0]))
	}
}

func TestSetJITNilRestoresNullBackend(t *testing.T) {
	// SetJIT(nil) must install jit.NullBackend cleanly, leaving the VM
	// able to run a program by interpretation alone (spec.md §4.6).
	v := New()
	v.SetJIT(nil)
	var body []byte
	body = append(body, pushInt(7)...)
	body = append(body, returnVal()...)
	v.LoadProgram(buildSingleFuncImage(body))
	if st := v.Run(); st != bytecode.StatusOK {
		t.Fatalf("Run = %v", st)
	}
	if value.AsInt(v.stack[0]) != 7 {
		t.Fatalf("stack[0] = %v, want 7", value.AsInt(v.stack[0]))
	}
}

func TestRunWithTimeoutCompletesFastProgram(t *testing.T) {
	var body []byte
	body = append(body, pushInt(1)...)
	body = append(body, returnVal()...)

	v := New()
	v.LoadProgram(buildSingleFuncImage(body))
	if st := v.RunWithTimeout(time.Second); st != bytecode.StatusOK {
		t.Fatalf("RunWithTimeout = %v", st)
	}
}
