// Package vmpool fans a batch of Program Images out across a bounded
// number of concurrently running vm.VM instances. Each worker owns
// exactly one VM (and therefore exactly one memory.Manager) for its
// entire lifetime, since a VM's arena must never be shared across
// goroutines (spec.md §5) — this package is the "each goroutine gets
// its own VM" answer to that constraint, adapted from the teacher's
// WorkerPool (internal/concurrency/concurrency.go) to fan out VM runs
// instead of generic interface{} jobs.
package vmpool

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"sunscript/internal/bytecode"
	"sunscript/internal/vm"
)

// Job is one Program Image to run, plus the constructor for the VM that
// runs it (which installs any host handler the program needs). NewVM is
// called once per Job, on whichever goroutine the pool schedules the
// job to, so NewVM can safely close over per-job state without racing
// other jobs.
type Job struct {
	ID      string
	Program []byte
	NewVM   func() *vm.VM
	Timeout time.Duration
}

// Result is a completed Job's outcome.
type Result struct {
	JobID    string
	Status   bytecode.Status
	Duration time.Duration
	Err      error
}

// Pool bounds how many VMs may run concurrently. Unlike the teacher's
// WorkerPool, there is no persistent worker goroutine or Jobs channel:
// each job RunAll starts acquires a semaphore slot, builds a fresh VM on its own
// goroutine, and releases the slot when that VM finishes, since a VM
// cannot be handed between goroutines once loaded.
type Pool struct {
	sem *semaphore.Weighted
}

// New returns a Pool that runs at most size VMs at once.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// RunAll runs every job, blocking until all have completed or ctx is
// cancelled. Jobs beyond the pool's size queue on the semaphore; a
// cancelled ctx causes any job still waiting for a slot to abort with
// ctx.Err() instead of running.
func (p *Pool) RunAll(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	done := make(chan struct{})
	for i := range jobs {
		i := i
		go func() {
			results[i] = p.runOne(ctx, jobs[i])
			done <- struct{}{}
		}()
	}
	for range jobs {
		<-done
	}
	return results
}

func (p *Pool) runOne(ctx context.Context, job Job) Result {
	start := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Result{JobID: job.ID, Status: bytecode.StatusError, Err: err}
	}
	defer p.sem.Release(1)

	v := job.NewVM()
	defer v.Shutdown()

	if st := v.LoadProgram(job.Program); st != bytecode.StatusOK {
		return Result{JobID: job.ID, Status: st, Duration: time.Since(start)}
	}

	var st bytecode.Status
	if job.Timeout > 0 {
		st = v.RunWithTimeout(job.Timeout)
	} else {
		st = v.Run()
	}
	return Result{JobID: job.ID, Status: st, Duration: time.Since(start)}
}
