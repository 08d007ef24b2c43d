package vmpool

import (
	"context"
	"testing"
	"time"

	"sunscript/internal/bytecode"
	"sunscript/internal/value"
	"sunscript/internal/vm"
)

func trivialProgram(n int32) []byte {
	enc := bytecode.NewEncoder(bytecode.BuildFlagDouble)
	u := uint32(n)
	body := []byte{byte(bytecode.OpPush), byte(value.TyInt), byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
	body = append(body, byte(bytecode.OpReturn), 1)
	enc.AddInternal(0, 0, body)
	return enc.Encode()
}

func TestRunAllCompletesMoreJobsThanPoolSize(t *testing.T) {
	p := New(2)
	jobs := make([]Job, 5)
	for i := range jobs {
		jobs[i] = Job{ID: string(rune('a' + i)), Program: trivialProgram(int32(i)), NewVM: vm.New}
	}
	results := p.RunAll(context.Background(), jobs)
	for i, r := range results {
		if r.Status != bytecode.StatusOK {
			t.Fatalf("job %d status = %v, want StatusOK", i, r.Status)
		}
	}
}

func TestRunAllRespectsCancelledContext(t *testing.T) {
	p := New(1)
	// Hold the pool's only slot so the job below must wait on ctx.
	if err := p.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer p.sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	jobs := []Job{{ID: "x", Program: trivialProgram(1), NewVM: vm.New, Timeout: time.Second}}
	results := p.RunAll(ctx, jobs)
	if results[0].Err == nil {
		t.Fatalf("expected cancelled-context error, got nil (status %v)", results[0].Status)
	}
}
