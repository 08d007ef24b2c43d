// Package commands implements cmd/sunscript's subcommands, split out
// from main.go the way the teacher's cmd/sentra/commands package does,
// scoped down to the operations a Program Image host actually needs:
// SunScript has no compiler frontend in this repo (spec.md's entry
// point is a pre-built Program Image), so there is no build/fmt/lint/
// repl surface to carry over — only run and inspect survive the cut.
package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kr/pretty"

	"sunscript/internal/bytecode"
	"sunscript/internal/inspector"
	"sunscript/internal/profilestore"
	"sunscript/internal/sunlog"
	"sunscript/internal/trace"
	"sunscript/internal/vm"
)

// RunOptions configures RunCommand.
type RunOptions struct {
	ImagePath     string
	Timeout       time.Duration // 0 disables the deadline
	ProfileDBPath string        // empty disables warm-start; the store is only read, never written back
	InspectAddr   string        // empty disables the trace inspector server
}

// RunCommand loads a Program Image and runs it to completion, printing
// its final status the way the teacher's run command reports script
// exit state.
func RunCommand(opts RunOptions) error {
	data, err := os.ReadFile(opts.ImagePath)
	if err != nil {
		return fmt.Errorf("read program image: %w", err)
	}

	v := vm.New()

	if opts.ProfileDBPath != "" {
		store, err := profilestore.Open(opts.ProfileDBPath)
		if err != nil {
			return fmt.Errorf("open profile store: %w", err)
		}
		defer store.Close()
		if warmed, err := store.Warm(); err == nil {
			v.SetProfiler(warmed)
		} else {
			sunlog.Default().Warnf("profile store warm: %v", err)
		}
	}

	if opts.InspectAddr != "" {
		insp := inspector.Wrap(trace.NewRecorder())
		v.SetSink(insp)
		go func() {
			if err := insp.ListenAndServe(opts.InspectAddr); err != nil {
				sunlog.Default().Warnf("inspector server: %v", err)
			}
		}()
		fmt.Printf("trace inspector listening on ws://%s/trace\n", opts.InspectAddr)
	}

	start := time.Now()
	if st := v.LoadProgram(data); st != bytecode.StatusOK {
		return fmt.Errorf("load program: status %v", st)
	}

	var status bytecode.Status
	if opts.Timeout > 0 {
		status = v.RunWithTimeout(opts.Timeout)
	} else {
		status = v.Run()
	}
	elapsed := time.Since(start)

	fmt.Printf("status: %v\n", status)
	fmt.Printf("elapsed: %s (%s)\n", elapsed, humanize.Comma(elapsed.Nanoseconds()))
	return nil
}

// InspectOptions configures InspectCommand.
type InspectOptions struct {
	ImagePath string
}

// InspectCommand decodes a Program Image and prints its function table
// without running it, for diagnosing a malformed or unexpected image.
func InspectCommand(opts InspectOptions) error {
	data, err := os.ReadFile(opts.ImagePath)
	if err != nil {
		return fmt.Errorf("read program image: %w", err)
	}
	img, err := bytecode.Decode(data)
	if err != nil {
		return fmt.Errorf("decode program image: %w", err)
	}
	fmt.Printf("functions (%d):\n", len(img.Functions))
	for _, fn := range img.Functions {
		fmt.Printf("  %# v\n", pretty.Formatter(fn))
	}
	return nil
}
