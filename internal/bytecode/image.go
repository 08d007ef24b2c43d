package bytecode

import (
	"encoding/binary"

	"sunscript/internal/sunerr"
)

// FunctionKind distinguishes an internal function (body lives in this
// image) from an external one (dispatched to the host handler by name).
type FunctionKind byte

const (
	FunctionInternal FunctionKind = 0
	FunctionExternal FunctionKind = 1
)

// Function describes one entry of a Program Image's function table.
type Function struct {
	Kind        FunctionKind
	ID          uint32
	EntryOffset uint32
	Arity       byte
	Name        string // set for external entries; empty for internal

	// Body holds the bytes Encoder.AddInternal was given for an
	// internal function. Decode does not set it, so it is nil on every
	// decoded Function. Bodies are not length-prefixed in the image
	// itself — every function body runs until its last OP_DONE or
	// OP_RETURN, or up to the next function's EntryOffset.
	Body []byte
}

// Image is a decoded Program Image: spec.md §3/§6.
//
//	bytes 0..3:  build flags (LE u32)
//	u32 count, then count * {u8 kind, u32 id, u32 entry_offset, u8 arity, u16 namelen, name}
//	remaining bytes: concatenated function bodies
type Image struct {
	BuildFlags BuildFlag
	Functions  []*Function
	ByID       map[uint32]*Function
	Code       []byte // raw, concatenated opcode stream for internal functions
}

// Decode parses a Program Image byte buffer. It returns ProgramMalformed
// on any truncation or inconsistency, matching the load-time contract in
// spec.md §7 ("load-time errors return ERROR ... and leave the VM
// unloaded").
func Decode(data []byte) (*Image, error) {
	if len(data) < 8 {
		return nil, sunerr.New(sunerr.ProgramMalformed, "", 0, "program image shorter than header")
	}
	img := &Image{
		BuildFlags: BuildFlag(binary.LittleEndian.Uint32(data[0:4])),
		ByID:       make(map[uint32]*Function),
	}
	off := 4
	count := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4

	for i := uint32(0); i < count; i++ {
		if off+1+4+4+1+2 > len(data) {
			return nil, sunerr.New(sunerr.ProgramMalformed, "", 0, "truncated function table entry")
		}
		fn := &Function{
			Kind:        FunctionKind(data[off]),
			ID:          binary.LittleEndian.Uint32(data[off+1 : off+5]),
			EntryOffset: binary.LittleEndian.Uint32(data[off+5 : off+9]),
			Arity:       data[off+9],
		}
		off += 10
		nameLen := int(binary.LittleEndian.Uint16(data[off : off+2]))
		off += 2
		if off+nameLen > len(data) {
			return nil, sunerr.New(sunerr.ProgramMalformed, "", 0, "truncated function name")
		}
		if nameLen > 0 {
			fn.Name = string(data[off : off+nameLen])
		}
		off += nameLen
		if _, dup := img.ByID[fn.ID]; dup {
			return nil, sunerr.New(sunerr.ProgramMalformed, "", 0, "duplicate function id")
		}
		img.Functions = append(img.Functions, fn)
		img.ByID[fn.ID] = fn
	}

	img.Code = data[off:]

	for _, fn := range img.Functions {
		if fn.Kind != FunctionInternal {
			continue
		}
		if int(fn.EntryOffset) > len(img.Code) {
			return nil, sunerr.New(sunerr.ProgramMalformed, "", 0, "function entry offset out of range")
		}
	}
	return img, nil
}

// Function looks up a function by id, reporting UnknownFunction if absent.
func (img *Image) Function(id uint32) (*Function, error) {
	fn, ok := img.ByID[id]
	if !ok {
		return nil, sunerr.New(sunerr.UnknownFunction, "", 0, "no function with given id")
	}
	return fn, nil
}

// Encoder builds a Program Image byte buffer; used by tests and by the
// (out-of-scope) compiler frontend to assemble images this package can
// decode.
type Encoder struct {
	buildFlags BuildFlag
	functions  []*Function
	code       []byte
}

func NewEncoder(buildFlags BuildFlag) *Encoder {
	return &Encoder{buildFlags: buildFlags}
}

// AddInternal appends a function body to the code segment and records
// its table entry, returning the assigned entry offset.
func (e *Encoder) AddInternal(id uint32, arity byte, body []byte) uint32 {
	off := uint32(len(e.code))
	e.code = append(e.code, body...)
	e.functions = append(e.functions, &Function{
		Kind: FunctionInternal, ID: id, EntryOffset: off, Arity: arity, Body: body,
	})
	return off
}

// AddExternal records a host-dispatched function table entry.
func (e *Encoder) AddExternal(id uint32, arity byte, name string) {
	e.functions = append(e.functions, &Function{
		Kind: FunctionExternal, ID: id, Arity: arity, Name: name,
	})
}

// Encode serializes the accumulated functions and code into a Program
// Image byte buffer matching the layout Decode expects.
func (e *Encoder) Encode() []byte {
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(e.buildFlags))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(e.functions)))
	buf := append([]byte{}, header[:]...)

	for _, fn := range e.functions {
		var entry [10]byte
		entry[0] = byte(fn.Kind)
		binary.LittleEndian.PutUint32(entry[1:5], fn.ID)
		binary.LittleEndian.PutUint32(entry[5:9], fn.EntryOffset)
		entry[9] = fn.Arity
		buf = append(buf, entry[:]...)

		var nameLen [2]byte
		binary.LittleEndian.PutUint16(nameLen[:], uint16(len(fn.Name)))
		buf = append(buf, nameLen[:]...)
		buf = append(buf, fn.Name...)
	}

	buf = append(buf, e.code...)
	return buf
}
