// Package optimizer implements the trace optimization pipeline:
// recorder → guard → fold → dead → output (spec.md §4.5). Each stage
// is a Filter that forwards one instruction at a time and flushes any
// held-back state when the trace ends.
package optimizer

import "sunscript/internal/ir"

// Filter is one pipeline stage. Forward consumes an instruction at its
// original trace ref and pushes zero or more (possibly rewritten)
// instructions onto out, preserving each survivor's original ref so
// that refs recorded by earlier stages stay valid for consumers
// downstream (spec.md §4.5, dead-code elimination's ref-preservation
// rule applies to every stage, not just dead's own rewrites).
type Filter interface {
	Forward(ref ir.Ref, ins ir.Instruction, out *Output)
	Drain(out *Output)
}

// Output collects a stage's rewritten instructions in ref order. Using
// a map keyed by ref (rather than ir.Buffer's bounded ring)
// lets later stages — dead-code elimination in particular — look
// arbitrarily far back in one trace, which a single 64-slot ring
// cannot hold for traces longer than 64 instructions.
type Output struct {
	instructions map[ir.Ref]ir.Instruction
	order        []ir.Ref
}

func newOutput() *Output {
	return &Output{instructions: make(map[ir.Ref]ir.Instruction)}
}

func (o *Output) emit(ref ir.Ref, ins ir.Instruction) {
	if _, exists := o.instructions[ref]; !exists {
		o.order = append(o.order, ref)
	}
	o.instructions[ref] = ins
}

// At returns the instruction currently recorded for ref, if any — used
// by fold to inspect a producer it is not currently forwarding.
func (o *Output) At(ref ir.Ref) (ir.Instruction, bool) {
	ins, ok := o.instructions[ref]
	return ins, ok
}

// Sequence returns the stage's output in ref order.
func (o *Output) Sequence() []ir.Instruction {
	out := make([]ir.Instruction, len(o.order))
	for i, ref := range o.order {
		out[i] = o.instructions[ref]
	}
	return out
}

// Pipeline chains the three optimization stages over a completed trace.
type Pipeline struct {
	stages []Filter
}

// NewPipeline builds the fixed guard → fold → dead stage order.
// "recorder" and "output" from spec.md §4.5 are the producer (the
// trace itself) and consumer (Run) of this pipeline, not stages here.
func NewPipeline() *Pipeline {
	return &Pipeline{stages: []Filter{
		&GuardStage{},
		&FoldStage{},
		&DeadStage{},
	}}
}

// Run pushes every instruction of trace through the enabled stages in
// order, then drains each stage, returning the fully optimized IR.
func (p *Pipeline) Run(trace []ir.Instruction) []ir.Instruction {
	cur := trace
	for _, stage := range p.stages {
		out := newOutput()
		for i, ins := range cur {
			stage.Forward(ir.Ref(i), ins, out)
		}
		stage.Drain(out)
		cur = out.Sequence()
	}
	return cur
}
