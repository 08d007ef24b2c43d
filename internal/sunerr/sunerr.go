// Package sunerr defines the runtime's error taxonomy.
//
// Every code in spec §7 is a Code constant here. New wraps a
// *RuntimeError carrying the code with pkg/errors so a Go stack trace
// travels alongside the interpreted call stack; callers read the code
// back from any such error with CodeOf.
package sunerr

import "github.com/pkg/errors"

// Code identifies a runtime error category.
type Code int

const (
	None Code = iota
	Internal
	TypeMismatch
	DivideByZero
	StackUnderflow
	BadPointer
	UnknownFunction
	UnknownLocal
	HandlerError
	GuardFailure  // internal only; never surfaced to a host
	TraceAborted  // internal only; never surfaced to a host
	ProgramMalformed
)

func (c Code) String() string {
	switch c {
	case None:
		return "None"
	case Internal:
		return "Internal"
	case TypeMismatch:
		return "TypeMismatch"
	case DivideByZero:
		return "DivideByZero"
	case StackUnderflow:
		return "StackUnderflow"
	case BadPointer:
		return "BadPointer"
	case UnknownFunction:
		return "UnknownFunction"
	case UnknownLocal:
		return "UnknownLocal"
	case HandlerError:
		return "HandlerError"
	case GuardFailure:
		return "GuardFailure"
	case TraceAborted:
		return "TraceAborted"
	case ProgramMalformed:
		return "ProgramMalformed"
	default:
		return "Unknown"
	}
}

// RuntimeError is a SunScript runtime error carrying the frame and debug
// line active when it was raised, mirroring spec §7's propagation rule:
// "unwind the call stack, record the frame and debug line".
type RuntimeError struct {
	Code     Code
	Message  string
	Function string
	Line     int
}

func (e *RuntimeError) Error() string {
	if e.Function != "" {
		return e.Code.String() + ": " + e.Message + " (in " + e.Function + ")"
	}
	return e.Code.String() + ": " + e.Message
}

// New wraps a RuntimeError with a Go stack trace at the detection site.
func New(code Code, function string, line int, message string) error {
	return errors.WithStack(&RuntimeError{Code: code, Message: message, Function: function, Line: line})
}

// CodeOf extracts the Code from err, or Internal if err does not carry one.
func CodeOf(err error) Code {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	return Internal
}
