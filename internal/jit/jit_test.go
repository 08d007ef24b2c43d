package jit

import (
	"testing"

	"sunscript/internal/ir"
)

func TestNullBackendNeverCompiles(t *testing.T) {
	var backend Jit = NullBackend{}
	inst, err := backend.Initialize()
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	_, ok, err := backend.CompileTrace(inst, []ir.Instruction{{Op: ir.LoadInt}}, 1)
	if err != nil {
		t.Fatalf("CompileTrace: %v", err)
	}
	if ok {
		t.Fatal("NullBackend must never report a successful compile")
	}
}

func TestProfilerTierThresholds(t *testing.T) {
	p := NewProfiler()
	var lastTier Tier
	for i := 0; i < 1000; i++ {
		tier := p.RecordLoop(1, 42)
		if tier != TierInterpreted {
			lastTier = tier
		}
	}
	if lastTier != TierOptimized {
		t.Fatalf("lastTier = %v, want TierOptimized after 1000 iterations", lastTier)
	}
	if p.Count(1, 42) != 1000 {
		t.Fatalf("Count = %d, want 1000", p.Count(1, 42))
	}
}

func TestCacheHitOnIdenticalTrace(t *testing.T) {
	c := NewCache()
	trace := []ir.Instruction{{Op: ir.LoadInt, A: 1}, {Op: ir.AddInt, A: 2}}
	if _, ok := c.Lookup(trace); ok {
		t.Fatal("expected cache miss before Store")
	}
	c.Store(trace, CompiledTrace{TraceID: 7})
	ct, ok := c.Lookup(trace)
	if !ok || ct.TraceID != 7 {
		t.Fatalf("Lookup = (%+v, %v), want (TraceID:7, true)", ct, ok)
	}

	other := []ir.Instruction{{Op: ir.LoadInt, A: 2}}
	if _, ok := c.Lookup(other); ok {
		t.Fatal("expected cache miss for a different trace body")
	}
}
