package jit

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"sunscript/internal/ir"
)

// digest fingerprints an IR trace so identical loop bodies compiled
// from different call sites share one CompiledTrace.
func digest(trace []ir.Instruction) [32]byte {
	h, _ := blake2b.New256(nil)
	var buf [16]byte
	for _, ins := range trace {
		buf[0] = byte(ins.Op)
		binary.LittleEndian.PutUint32(buf[1:5], uint32(ins.A))
		binary.LittleEndian.PutUint16(buf[5:7], uint16(ins.B))
		buf[7] = ins.C
		binary.LittleEndian.PutUint32(buf[8:12], uint32(ins.Left))
		binary.LittleEndian.PutUint32(buf[12:16], uint32(ins.Right))
		h.Write(buf[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Cache memoizes compiled traces by content digest, so once a trace
// body has been compiled, the optimizer pipeline and backend
// compilation do not run for it again, regardless of how many call
// sites or loop iterations produce it. A trace the backend declined to
// compile is never stored, so it is optimized and offered again.
type Cache struct {
	entries map[[32]byte]CompiledTrace
}

func NewCache() *Cache {
	return &Cache{entries: make(map[[32]byte]CompiledTrace)}
}

// Lookup returns a previously compiled trace for an IR body, if any.
func (c *Cache) Lookup(trace []ir.Instruction) (CompiledTrace, bool) {
	ct, ok := c.entries[digest(trace)]
	return ct, ok
}

// Store records a compiled trace under its IR body's digest.
func (c *Cache) Store(trace []ir.Instruction, ct CompiledTrace) {
	c.entries[digest(trace)] = ct
}

// Len reports the number of distinct compiled traces cached, for
// diagnostics.
func (c *Cache) Len() int { return len(c.entries) }
