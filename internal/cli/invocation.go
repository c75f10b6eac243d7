// Package cli canonicalizes command-line input and drives a pipeline run.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// Invocation is the fully canonicalized description of one run. All paths
// are absolute by the time parsing returns.
type Invocation struct {
	// PlanPath points at a YAML plan; empty means a built-in variant is
	// used instead (picked by Variant or the interactive menu).
	PlanPath string

	// Variant selects a built-in pipeline, 1-based. Zero with an empty
	// PlanPath triggers the interactive menu.
	Variant int

	WorkDir    string
	KeepTemp   bool
	Timeout    time.Duration
	Workers    int
	StatusAddr string
	RunsOnly   bool
}

// InvocationError carries the exit code a parse failure maps to.
type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitFatal, Message: fmt.Sprintf(format, args...)}
}

// ParseInvocation parses command-line flags into a canonical Invocation.
// Parsing errors are returned, never printed.
func ParseInvocation(args []string) (Invocation, error) {
	fs := flag.NewFlagSet("metapipe", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		planPath   string
		variant    int
		workDir    string
		keepTemp   bool
		timeoutS   int
		workers    int
		statusAddr string
		runsOnly   bool
	)
	fs.StringVar(&planPath, "plan", "", "YAML pipeline plan (overrides -variant)")
	fs.IntVar(&variant, "variant", 0, "Built-in pipeline variant (1-based); 0 asks interactively")
	fs.StringVar(&workDir, "workdir", ".", "Pipeline working directory (raw/ inputs, stage outputs)")
	fs.BoolVar(&keepTemp, "keep-temp", false, "Retain per-job scratch directories")
	fs.IntVar(&timeoutS, "timeout", 0, "Per-job timeout in seconds; 0 disables")
	fs.IntVar(&workers, "workers", 0, "Override the plan's sample-level worker count")
	fs.StringVar(&statusAddr, "status-addr", "", "Serve the JSON status API on this address (e.g. :8080)")
	fs.BoolVar(&runsOnly, "runs", false, "List recorded runs in the working directory and exit")

	if err := fs.Parse(args); err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}
	if fs.NArg() != 0 {
		return Invocation{}, invalidInvocationf("unexpected positional arguments: %q", strings.Join(fs.Args(), " "))
	}
	if variant < 0 {
		return Invocation{}, invalidInvocationf("-variant must be positive (got %d)", variant)
	}
	if timeoutS < 0 {
		return Invocation{}, invalidInvocationf("-timeout must not be negative")
	}
	if workers < 0 {
		return Invocation{}, invalidInvocationf("-workers must not be negative")
	}

	absWork, err := filepath.Abs(workDir)
	if err != nil {
		return Invocation{}, invalidInvocationf("resolving -workdir: %v", err)
	}
	inv := Invocation{
		Variant:    variant,
		WorkDir:    absWork,
		KeepTemp:   keepTemp,
		Timeout:    time.Duration(timeoutS) * time.Second,
		Workers:    workers,
		StatusAddr: statusAddr,
		RunsOnly:   runsOnly,
	}
	if planPath != "" {
		if inv.PlanPath, err = filepath.Abs(planPath); err != nil {
			return Invocation{}, invalidInvocationf("resolving -plan: %v", err)
		}
	}
	return inv, nil
}

// ExitCodeFor maps a parse error to the process exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil && invErr.ExitCode != 0 {
		return invErr.ExitCode
	}
	return ExitFatal
}
