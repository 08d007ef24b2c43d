// Package ir defines the trace recorder's intermediate representation:
// a fixed-width instruction record and the 64-slot ring buffer the
// recorder holds an in-flight trace in (spec.md §3, §4.4).
package ir

// Op is an IR opcode. Numeric values are pinned to the original
// IR_* constants recovered from SunOpt.h.
type Op byte

const (
	LoadInt      Op = 0x0
	LoadString   Op = 0x1
	LoadReal     Op = 0x2
	LoadTable    Op = 0x3
	LoadIntLocal    Op = 0x10
	LoadStringLocal Op = 0x11
	LoadRealLocal   Op = 0x12
	LoadTableLocal  Op = 0x13

	Call  Op = 0x20
	Yield Op = 0x21

	IntArg    Op = 0x25
	StringArg Op = 0x26
	RealArg   Op = 0x27
	TableArg  Op = 0x28

	IncrementInt Op = 0x30
	DecrementInt Op = 0x31
	IncrementReal Op = 0x32
	DecrementReal Op = 0x33
	AddInt        Op = 0x34
	SubInt        Op = 0x35
	MulInt        Op = 0x36
	DivInt        Op = 0x37
	UnaryMinusInt Op = 0x38
	AddReal       Op = 0x39
	SubReal       Op = 0x3a
	MulReal       Op = 0x3b
	DivReal       Op = 0x3c
	UnaryMinusReal Op = 0x3d

	AppIntString    Op = 0x47
	AppStringInt    Op = 0x48
	AppStringString Op = 0x49
	AppStringReal   Op = 0x4a
	AppRealString   Op = 0x4b

	Guard     Op = 0x50
	CmpInt    Op = 0x51
	CmpString Op = 0x52
	CmpReal   Op = 0x53
	CmpTable  Op = 0x54

	Loopback  Op = 0x60
	LoopStart Op = 0x61
	LoopExit  Op = 0x62
	Phi       Op = 0x63
	Snap      Op = 0x64
	Unbox     Op = 0x65
	Nop       Op = 0x66

	ConvIntToReal Op = 0x70

	TableNew  Op = 0x80
	TableHGet Op = 0x81
	TableAGet Op = 0x82
	TableHSet Op = 0x83
	TableASet Op = 0x84
	TableARef Op = 0x85
	TableHRef Op = 0x86
)

// Ref indexes an instruction by its absolute, monotonically increasing
// position in the IR stream produced by a single trace recording.
type Ref int32

// Instruction is the fixed-width IR record from spec.md §3: an opcode,
// three small operand fields whose meaning depends on Op (constant
// index / call id, offset / arg count / type, jump / snapshot id /
// local id), two operand references into the IR stream, and a type
// annotation on the instruction's result.
type Instruction struct {
	Op          Op
	A           int32
	B           int16
	C           byte
	Left, Right Ref
	ResultType  byte
}
