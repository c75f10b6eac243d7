package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// Runner executes one external-tool invocation for one JobDescriptor.
//
// Combined stdout/stderr go to the job's dedicated log file, never mixed
// with any other job's log; the log file is created even when the
// command fails immediately, so no job ever finishes without an artifact to
// inspect. Classification at this layer is purely mechanical: exit 0 proceeds
// to validation, non-zero becomes a failure outcome that leaves sibling jobs
// untouched.
type Runner struct {
	// Timeout bounds one job's wall time; zero means no timeout and a hung
	// tool blocks its slot indefinitely.
	Timeout time.Duration

	// KeepTemp retains the job's scratch directory after the job finishes.
	KeepTemp bool

	// Dir is the working directory for invocations; empty means the
	// process's current directory.
	Dir string
}

// Run executes the job and returns its raw, not-yet-validated outcome.
//
// The scratch directory is created before and removed after the invocation on
// both success and failure paths unless KeepTemp is set. Cancellation kills
// the whole process group, not just the shell.
func (r *Runner) Run(ctx context.Context, job JobDescriptor) JobOutcome {
	start := time.Now()
	out := JobOutcome{
		Key:     job.Key,
		ID:      job.ID(),
		Index:   job.Index,
		LogPath: job.LogPath,
		Outputs: job.Outputs,
	}
	fail := func(code int, reason string) JobOutcome {
		out.Status = StatusFailure
		out.ExitCode = code
		out.Reason = reason
		out.Duration = time.Since(start)
		return out
	}

	logFile, err := createLog(job.LogPath)
	if err != nil {
		return fail(-1, fmt.Sprintf("cannot create log: %v", err))
	}
	defer logFile.Close()

	// Commands redirect into declared outputs; the shell will not create
	// missing parent directories for them.
	for _, p := range job.Outputs {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fail(-1, fmt.Sprintf("cannot create output dir: %v", err))
		}
	}

	if job.TempDir != "" {
		if err := os.MkdirAll(job.TempDir, 0o755); err != nil {
			return fail(-1, fmt.Sprintf("cannot create temp dir: %v", err))
		}
		if !r.KeepTemp {
			defer os.RemoveAll(job.TempDir)
		}
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.Command("sh", "-c", job.ExpandCommand())
	cmd.Dir = r.Dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	// Own process group so cancellation can kill the full tool tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(logFile, "failed to start command: %v\n", err)
		return fail(-1, fmt.Sprintf("failed to start: %v", err))
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		fmt.Fprintf(logFile, "job cancelled: %v\n", ctx.Err())
		return fail(-1, fmt.Sprintf("cancelled: %v", ctx.Err()))
	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				return fail(exitErr.ExitCode(), fmt.Sprintf("exit status %d", exitErr.ExitCode()))
			}
			return fail(-1, err.Error())
		}
	}

	out.Status = StatusSuccess
	out.ExitCode = 0
	out.Duration = time.Since(start)
	return out
}

// createLog creates the job log file, making its parent directory on demand.
func createLog(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("job has no log path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}
