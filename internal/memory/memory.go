// Package memory implements SunScript's Memory Manager: a bump-allocated
// arena of reference-counted, type-tagged blocks.
//
// Blocks are never individually reclaimed. Release only decrements a
// header's refcount; reclamation happens whole-segment, via Reset. This
// gives O(1) allocation and cycle-free lifetime management without a
// tracing collector, at the cost of only being able to free everything
// at once (see spec.md §4.1 and Design Note 9.2).
package memory

import (
	"fmt"
	"unsafe"

	"github.com/dustin/go-humanize"

	"sunscript/internal/sunerr"
)

// header immediately precedes every block's payload bytes.
type header struct {
	RefCount int64
	Size     int64
	Type     byte
}

const headerSize = unsafe.Sizeof(header{})

const defaultSegmentSize = 64 * 1024

type segment struct {
	buf []byte
	pos uint64
}

func (s *segment) contains(p uintptr) (offset uintptr, ok bool) {
	if len(s.buf) == 0 {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(&s.buf[0]))
	end := base + uintptr(len(s.buf))
	if p < base+headerSize || p >= end {
		return 0, false
	}
	return p - base, true
}

// Manager is an instance-local arena. It is not safe to share a Manager,
// or any pointer it produced, across Manager instances or goroutines
// (spec.md §5): each VM owns exactly one Manager.
type Manager struct {
	segments []*segment
	nextSize uint64

	// objects pins Go-managed values (string and table objects) behind
	// their arena payload pointer, so the arena can carry refcount/type
	// bookkeeping for them without storing their contents as raw bytes.
	objects map[unsafe.Pointer]interface{}
}

// NewManager creates an empty arena. The first segment is allocated
// lazily, on the first call to New.
func NewManager() *Manager {
	return &Manager{nextSize: defaultSegmentSize, objects: make(map[unsafe.Pointer]interface{})}
}

// NewManaged allocates an arena-tracked block for a Go-managed object
// (internal/value's StringObj and TableObj) and pins obj behind the
// returned pointer so it survives independently of the arena's raw
// byte storage.
func (m *Manager) NewManaged(typ byte, obj interface{}) unsafe.Pointer {
	ptr := m.New(unsafe.Sizeof(uintptr(0)), typ)
	m.objects[ptr] = obj
	return ptr
}

// Lookup retrieves the Go value pinned by NewManaged for ptr.
func (m *Manager) Lookup(ptr unsafe.Pointer) (interface{}, error) {
	if _, err := m.headerFor(ptr); err != nil {
		return nil, err
	}
	obj, ok := m.objects[ptr]
	if !ok {
		return nil, sunerr.New(sunerr.BadPointer, "", 0, "pointer is not a managed object")
	}
	return obj, nil
}

func (m *Manager) growSegment(minSize uint64) *segment {
	size := m.nextSize
	for size < minSize {
		size *= 2
	}
	m.nextSize = size * 2
	seg := &segment{buf: make([]byte, size)}
	m.segments = append(m.segments, seg)
	return seg
}

// New allocates size payload bytes tagged with typ and returns a pointer
// to the payload, immediately after the block's header.
func (m *Manager) New(size uint64, typ byte) unsafe.Pointer {
	need := uint64(headerSize) + size
	var seg *segment
	if n := len(m.segments); n > 0 {
		if last := m.segments[n-1]; last.pos+need <= uint64(len(last.buf)) {
			seg = last
		}
	}
	if seg == nil {
		seg = m.growSegment(need)
	}
	base := seg.pos
	seg.pos += need
	hdr := (*header)(unsafe.Pointer(&seg.buf[base]))
	hdr.RefCount = 1
	hdr.Size = int64(size)
	hdr.Type = typ
	return unsafe.Pointer(&seg.buf[base+uint64(headerSize)])
}

func (m *Manager) headerFor(ptr unsafe.Pointer) (*header, error) {
	p := uintptr(ptr)
	for _, seg := range m.segments {
		if offset, ok := seg.contains(p); ok {
			return (*header)(unsafe.Pointer(&seg.buf[offset-headerSize])), nil
		}
	}
	return nil, sunerr.New(sunerr.BadPointer, "", 0, "pointer is not owned by this memory manager")
}

// AddRef increments a block's refcount.
func (m *Manager) AddRef(ptr unsafe.Pointer) error {
	h, err := m.headerFor(ptr)
	if err != nil {
		return err
	}
	h.RefCount++
	return nil
}

// Release decrements a block's refcount. At zero the block is marked
// free but not individually reclaimed; see the package doc.
func (m *Manager) Release(ptr unsafe.Pointer) error {
	h, err := m.headerFor(ptr)
	if err != nil {
		return err
	}
	h.RefCount--
	return nil
}

// RefCount reports a block's current refcount, for tests and invariant
// checks (spec.md I2).
func (m *Manager) RefCount(ptr unsafe.Pointer) (int64, error) {
	h, err := m.headerFor(ptr)
	if err != nil {
		return 0, err
	}
	return h.RefCount, nil
}

// GetType reads a block's type tag, validating pointer ownership.
func (m *Manager) GetType(ptr unsafe.Pointer) (byte, error) {
	h, err := m.headerFor(ptr)
	if err != nil {
		return 0, err
	}
	return h.Type, nil
}

// GetTypeUnsafe reads a block's type tag without validating that ptr is
// owned by any Manager. Callers use this on the hot path once a value's
// provenance is already known (e.g. immediately after a type-tag switch
// on the owning Value), to skip the segment-membership scan.
func GetTypeUnsafe(ptr unsafe.Pointer) byte {
	h := (*header)(unsafe.Pointer(uintptr(ptr) - headerSize))
	return h.Type
}

// Reset releases all segments and invalidates every outstanding pointer.
// Called between top-level executions or on VM shutdown.
func (m *Manager) Reset() {
	m.segments = nil
	m.nextSize = defaultSegmentSize
	m.objects = make(map[unsafe.Pointer]interface{})
}

// Stats summarizes arena occupancy for logging/diagnostics.
type Stats struct {
	Segments  int
	Allocated uint64
	Used      uint64
}

func (m *Manager) Stats() Stats {
	var s Stats
	s.Segments = len(m.segments)
	for _, seg := range m.segments {
		s.Allocated += uint64(len(seg.buf))
		s.Used += seg.pos
	}
	return s
}

func (s Stats) String() string {
	return fmt.Sprintf("%s segments, %s/%s used",
		humanize.Comma(int64(s.Segments)), humanize.Bytes(s.Used), humanize.Bytes(s.Allocated))
}
