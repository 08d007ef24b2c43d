// Package vm implements the Bytecode Decoder & Dispatcher: the
// stack-based interpreter loop that fetches opcodes from a loaded
// Program Image, maintains the operand stack and call stack, and
// drives the optional trace recorder and JIT backend at loop/trace
// markers (spec.md §4.2).
package vm

import (
	"time"

	"github.com/google/uuid"

	"sunscript/internal/bytecode"
	"sunscript/internal/jit"
	"sunscript/internal/memory"
	"sunscript/internal/sunerr"
	"sunscript/internal/sunlog"
	"sunscript/internal/trace"
	"sunscript/internal/value"
)

// VM is one interpreter instance. It owns exactly one memory.Manager
// and must never be shared across goroutines (spec.md §5); callers
// that need concurrent execution use internal/vmpool to hand each
// goroutine its own VM.
type VM struct {
	id     uuid.UUID
	mm     *memory.Manager
	log    *sunlog.Logger
	image  *bytecode.Image
	locals map[uint32]int // funcID -> declared local count, from a load-time OP_LOCAL scan

	stack []value.Value
	frame *Frame

	pc       int
	status   bytecode.Status
	cmpFlag  int // sign of the last CMP, consumed by the next JUMP_*
	realSize int // SUN_REAL_SIZE for the loaded image: 4 or 8 bytes, from Image.BuildFlags

	handler Handler
	call    callContext

	sink    trace.Sink
	backend jit.Jit
	jitInst jit.Instance
	cache   *jit.Cache
	prof    *jit.Profiler

	userData interface{}

	tickBudget int // instructions between timeout-clock polls
}

const defaultTickBudget = 4096

// New creates an unloaded VM. Install a Handler with SetHandler before
// Run if the program calls any external function.
func New() *VM {
	r := trace.NewRecorder()
	v := &VM{
		id:         uuid.New(),
		mm:         memory.NewManager(),
		log:        sunlog.Default(),
		sink:       r,
		backend:    jit.NullBackend{},
		cache:      jit.NewCache(),
		prof:       jit.NewProfiler(),
		tickBudget: defaultTickBudget,
	}
	inst, _ := v.backend.Initialize()
	v.jitInst = inst
	return v
}

// ID returns this VM instance's identity, a UUID assigned by New.
// Inspector events and profile-store rows do not carry it.
func (v *VM) ID() uuid.UUID { return v.id }

// SetHandler installs the host's external-function dispatcher.
func (v *VM) SetHandler(h Handler) { v.handler = h }

// SetJIT installs a JIT backend. Passing nil restores jit.NullBackend.
func (v *VM) SetJIT(j jit.Jit) {
	if j == nil {
		j = jit.NullBackend{}
	}
	v.backend.Shutdown(v.jitInst)
	v.backend = j
	inst, _ := v.backend.Initialize()
	v.jitInst = inst
}

// SetUserData/UserData store host-opaque state alongside the VM,
// retrievable from within a Handler.
func (v *VM) SetUserData(d interface{}) { v.userData = d }
func (v *VM) UserData() interface{}     { return v.userData }

// SetProfiler installs a warm-started jit.Profiler (e.g. one loaded by
// internal/profilestore) in place of the empty one New creates, so a
// host that persists loop hotness across runs does not have to
// relearn which loops are hot from a cold counter map.
func (v *VM) SetProfiler(p *jit.Profiler) {
	if p == nil {
		p = jit.NewProfiler()
	}
	v.prof = p
}

// Profiler returns the VM's current hotness counters, for a host that
// wants to persist them (e.g. via internal/profilestore.Store.Save)
// after a run completes.
func (v *VM) Profiler() *jit.Profiler { return v.prof }

// SetSink installs a trace.Sink in place of the default *trace.Recorder,
// e.g. internal/inspector.Server wrapping a Recorder to broadcast its
// state transitions. Passing nil restores a fresh Recorder.
func (v *VM) SetSink(s trace.Sink) {
	if s == nil {
		s = trace.NewRecorder()
	}
	v.sink = s
}

// Shutdown releases the JIT backend and resets the arena.
func (v *VM) Shutdown() {
	v.backend.Shutdown(v.jitInst)
	v.mm.Reset()
}

// LoadProgram decodes a Program Image and prepares the VM to run its
// top-level function (id 0). A malformed image leaves the VM unloaded
// and returns StatusError (spec.md §7).
func (v *VM) LoadProgram(data []byte) bytecode.Status {
	img, err := bytecode.Decode(data)
	if err != nil {
		v.log.Warnf("load_program: %v", err)
		return bytecode.StatusError
	}
	realSize, err := img.BuildFlags.RealSize()
	if err != nil {
		v.log.Warnf("load_program: %v", err)
		return bytecode.StatusError
	}
	locals, err := scanLocalCounts(img, realSize)
	if err != nil {
		v.log.Warnf("load_program: %v", err)
		return bytecode.StatusError
	}
	v.image = img
	v.realSize = realSize
	v.locals = locals
	v.stack = nil
	v.frame = nil
	v.mm.Reset()

	entry, err := img.Function(0)
	if err != nil {
		v.log.Warnf("load_program: %v", err)
		return bytecode.StatusError
	}
	v.frame = &Frame{FunctionName: entry.Name, FuncID: 0, locals: newActivationRecord(v.locals[0])}
	v.pc = int(entry.EntryOffset)
	return bytecode.StatusOK
}

// scanLocalCounts walks every internal function body counting OP_LOCAL
// declarations, since the Program Image's function table carries only
// arity — the activation record size for each function is derived here
// rather than stored redundantly in the image (spec.md §3/§4.1).
func scanLocalCounts(img *bytecode.Image, realSize int) (map[uint32]int, error) {
	counts := make(map[uint32]int, len(img.Functions))
	for _, fn := range img.Functions {
		if fn.Kind != bytecode.FunctionInternal {
			continue
		}
		n := 0
		pc := int(fn.EntryOffset)
		for pc < len(img.Code) {
			op := bytecode.Op(img.Code[pc]).Base()
			pc++
			if op == bytecode.OpLocal {
				n++
			}
			opLen, err := bytecode.OperandLength(op, img.Code, pc, realSize)
			if err != nil {
				return nil, err
			}
			pc += opLen
			if op == bytecode.OpDone {
				break
			}
		}
		counts[fn.ID] = n
	}
	return counts, nil
}

// Run executes from the current PC until DONE/RETURN unwinds the
// top-level frame, a YIELD, an error, or (with RunWithTimeout) a
// timeout.
func (v *VM) Run() bytecode.Status {
	return v.dispatch(nil)
}

// RunWithTimeout behaves like Run but polls a steady clock every
// tickBudget instructions (not on every instruction, per spec.md §4.2)
// and returns StatusTimeout if d elapses first.
func (v *VM) RunWithTimeout(d time.Duration) bytecode.Status {
	deadline := time.Now().Add(d)
	return v.dispatch(&deadline)
}

// Resume continues execution after a YIELD or PAUSED return, from
// exactly where it left off.
func (v *VM) Resume() bytecode.Status {
	if v.status != bytecode.StatusYielded && v.status != bytecode.StatusPaused {
		v.log.Warnf("resume: %v", sunerr.New(sunerr.Internal, "", 0, "resume called without a suspended run"))
		return bytecode.StatusError
	}
	return v.dispatch(nil)
}

// Status returns the VM's last run status.
func (v *VM) Status() bytecode.Status { return v.status }
