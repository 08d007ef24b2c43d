package inspector

import (
	"testing"

	"sunscript/internal/trace"
	"sunscript/internal/value"
)

func TestWrapDelegatesActiveState(t *testing.T) {
	rec := trace.NewRecorder()
	s := Wrap(rec)

	if s.Active() {
		t.Fatalf("Active() = true before any OnLoopStart")
	}
	s.OnTraceStart(1, 10, nil)
	if !s.Active() {
		t.Fatalf("Active() = false after OnTraceStart, want true")
	}
	s.Abort("test abort")
	if s.Active() {
		t.Fatalf("Active() = true after Abort, want false")
	}
}

func TestBroadcastWithNoClientsDoesNotPanic(t *testing.T) {
	rec := trace.NewRecorder()
	s := Wrap(rec)
	s.OnTraceStart(1, 0, []value.Value{})
	s.RecordPushInt(42)
	s.Abort("no subscribers")
}

// pcSpy is a Recorder whose SetPC records the PC it was given.
type pcSpy struct {
	*trace.Recorder
	pc int
}

func (p *pcSpy) SetPC(pc int) { p.pc = pc }

func TestSetPCForwardsToRecorder(t *testing.T) {
	spy := &pcSpy{Recorder: trace.NewRecorder()}
	s := Wrap(spy)
	s.SetPC(99)
	if spy.pc != 99 {
		t.Fatalf("inner SetPC got %d, want 99", spy.pc)
	}
}
