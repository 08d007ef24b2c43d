// Package value implements SunScript's Value model: a 2-word tagged
// cell carrying either an inline payload (int, real, function id) or a
// managed pointer into an internal/memory arena (string, table).
//
// This is deliberately not the NaN-boxed encoding used elsewhere in this
// codebase's history: spec.md §3 calls for an explicit type tag plus an
// inline-payload-or-pointer word, so every Value carries its tag
// alongside the bits rather than hiding it in unused float bit patterns.
package value

import (
	"fmt"
	"math"
	"unsafe"

	"sunscript/internal/memory"
	"sunscript/internal/sunerr"
)

// Tag identifies a Value's representation. The numeric values match
// the original TY_* constants so a dumped Value's tag byte round-trips
// through a Program Image's constant pool type annotations unchanged.
type Tag byte

const (
	TyVoid   Tag = 0x0
	TyInt    Tag = 0x1
	TyString Tag = 0x2
	TyReal   Tag = 0x3
	TyObject Tag = 0x4
	TyFunc   Tag = 0x5
)

func (t Tag) String() string {
	switch t {
	case TyVoid:
		return "void"
	case TyInt:
		return "int"
	case TyString:
		return "string"
	case TyReal:
		return "real"
	case TyObject:
		return "object"
	case TyFunc:
		return "func"
	default:
		return "unknown"
	}
}

// Value is the VM's tagged cell. bits holds an int64's raw bits, a
// float64's raw bits, a function id, or an arena payload pointer cast
// to uintptr, depending on Tag.
type Value struct {
	Tag  Tag
	bits uint64
}

func BoxVoid() Value { return Value{Tag: TyVoid} }

func BoxInt(i int64) Value { return Value{Tag: TyInt, bits: uint64(i)} }

func BoxReal(f float64) Value { return Value{Tag: TyReal, bits: math.Float64bits(f)} }

func BoxFunc(id uint32) Value { return Value{Tag: TyFunc, bits: uint64(id)} }

// BoxString allocates a StringObj in mm's arena and returns a Value
// pointing at it.
func BoxString(mm *memory.Manager, s string) Value {
	ptr := mm.NewManaged(byte(TyString), &StringObj{S: s})
	return Value{Tag: TyString, bits: uint64(uintptr(ptr))}
}

// BoxTable allocates a fresh, empty table in mm's arena.
func BoxTable(mm *memory.Manager) Value {
	ptr := mm.NewManaged(byte(TyObject), NewTable())
	return Value{Tag: TyObject, bits: uint64(uintptr(ptr))}
}

func (v Value) ptr() unsafe.Pointer { return unsafe.Pointer(uintptr(v.bits)) }

func IsVoid(v Value) bool   { return v.Tag == TyVoid }
func IsInt(v Value) bool    { return v.Tag == TyInt }
func IsString(v Value) bool { return v.Tag == TyString }
func IsReal(v Value) bool   { return v.Tag == TyReal }
func IsObject(v Value) bool { return v.Tag == TyObject }
func IsFunc(v Value) bool   { return v.Tag == TyFunc }

func AsInt(v Value) int64     { return int64(v.bits) }
func AsReal(v Value) float64  { return math.Float64frombits(v.bits) }
func AsFuncID(v Value) uint32 { return uint32(v.bits) }

// AsString dereferences a TyString Value through mm, validating
// ownership and the arena's stored type tag.
func AsString(mm *memory.Manager, v Value) (*StringObj, error) {
	return lookupTyped[*StringObj](mm, v, TyString)
}

// AsTable dereferences a TyObject Value through mm.
func AsTable(mm *memory.Manager, v Value) (*Table, error) {
	return lookupTyped[*Table](mm, v, TyObject)
}

func lookupTyped[T any](mm *memory.Manager, v Value, want Tag) (T, error) {
	var zero T
	if v.Tag != want {
		return zero, sunerr.New(sunerr.TypeMismatch, "", 0, fmt.Sprintf("expected %s, got %s", want, v.Tag))
	}
	obj, err := mm.Lookup(v.ptr())
	if err != nil {
		return zero, err
	}
	t, ok := obj.(T)
	if !ok {
		return zero, sunerr.New(sunerr.BadPointer, "", 0, "arena object has unexpected Go type")
	}
	return t, nil
}

// StringObj is the managed representation of a TyString Value.
type StringObj struct {
	S string
}

// IsTruthy implements SunScript's truthiness rule: void and the
// integer/real zero value are false; everything else (including the
// empty string) is true.
func IsTruthy(v Value) bool {
	switch v.Tag {
	case TyVoid:
		return false
	case TyInt:
		return AsInt(v) != 0
	case TyReal:
		return AsReal(v) != 0
	default:
		return true
	}
}

// Equal compares two values for SunScript's CMP/equality opcodes.
// Values of different tags are never equal, except that int and real
// compare by promoting the int to real first (matching the ADD/SUB/MUL/
// DIV promotion rule in spec.md §4.2).
func Equal(mm *memory.Manager, a, b Value) (bool, error) {
	if a.Tag == b.Tag {
		switch a.Tag {
		case TyVoid:
			return true, nil
		case TyInt:
			return AsInt(a) == AsInt(b), nil
		case TyReal:
			return AsReal(a) == AsReal(b), nil
		case TyFunc:
			return AsFuncID(a) == AsFuncID(b), nil
		case TyString:
			sa, err := AsString(mm, a)
			if err != nil {
				return false, err
			}
			sb, err := AsString(mm, b)
			if err != nil {
				return false, err
			}
			return sa.S == sb.S, nil
		case TyObject:
			return a.bits == b.bits, nil
		}
	}
	if a.Tag == TyInt && b.Tag == TyReal {
		return float64(AsInt(a)) == AsReal(b), nil
	}
	if a.Tag == TyReal && b.Tag == TyInt {
		return AsReal(a) == float64(AsInt(b)), nil
	}
	return false, nil
}

// ToDisplayString renders v for OP_FORMAT and host-facing diagnostics.
func ToDisplayString(mm *memory.Manager, v Value) (string, error) {
	switch v.Tag {
	case TyVoid:
		return "void", nil
	case TyInt:
		return fmt.Sprintf("%d", AsInt(v)), nil
	case TyReal:
		return fmt.Sprintf("%g", AsReal(v)), nil
	case TyFunc:
		return fmt.Sprintf("<func %d>", AsFuncID(v)), nil
	case TyString:
		s, err := AsString(mm, v)
		if err != nil {
			return "", err
		}
		return s.S, nil
	case TyObject:
		return "<table>", nil
	default:
		return "", sunerr.New(sunerr.TypeMismatch, "", 0, "value has unknown tag")
	}
}
