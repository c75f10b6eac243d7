// Package engine implements the parallel sample-orchestration core: bounded
// dispatch of external-tool jobs, per-job logging, output validation, and
// order-independent aggregation of outcomes.
//
// One stage of a pipeline is one engine run over one discovered job list.
// Jobs are isolated from each other: a job owns its descriptor, its log file
// and its scratch directory exclusively, and its failure never aborts or
// corrupts a sibling.
package engine

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"metapipe/internal/sample"
)

// JobDescriptor is one unit of executable work: one sample (or one
// sample x database sub-task) bound to a concrete command invocation.
//
// Descriptors are constructed once by the stage builder from discovery output
// and are immutable afterwards; the running job owns its descriptor
// exclusively and nothing downstream re-derives paths from filenames.
type JobDescriptor struct {
	// Key identifies the sample this job processes.
	Key sample.Key

	// Index is the job's stable position in the discovered job list. The
	// aggregator uses it as the idempotence guard for duplicate ingestion.
	Index int

	// Database labels a sub-task within a sample (e.g. an SSU or LSU
	// reference database). Empty for plain per-sample jobs.
	Database string

	// Inputs are the validated input paths, forward read first.
	Inputs []string

	// Command is the invocation template; see ExpandCommand for the
	// recognised placeholders.
	Command string

	// Outputs are the artifact paths the command is expected to produce.
	Outputs []string

	// LogPath is the job's dedicated log file. No other job writes it.
	LogPath string

	// TempDir is the job's private scratch directory, keyed by sample.
	TempDir string
}

// ID returns the key, qualified by the database label for sub-tasks.
// It is the identity under which outcomes are logged and aggregated.
func (j JobDescriptor) ID() string {
	if j.Database != "" {
		return string(j.Key) + ":" + j.Database
	}
	return string(j.Key)
}

// ExpandCommand substitutes the job's fields into its command template.
//
// Placeholders: {input}, {input2}, {output}, {outdir}, {sample}, {db},
// {tmpdir}. Unknown placeholders are left verbatim so the tool's own brace
// syntax survives.
func (j JobDescriptor) ExpandCommand() string {
	input, input2 := "", ""
	if len(j.Inputs) > 0 {
		input = j.Inputs[0]
	}
	if len(j.Inputs) > 1 {
		input2 = j.Inputs[1]
	}
	output, outdir := "", ""
	if len(j.Outputs) > 0 {
		output = j.Outputs[0]
		outdir = filepath.Dir(output)
	}
	r := strings.NewReplacer(
		"{input}", input,
		"{input2}", input2,
		"{output}", output,
		"{outdir}", outdir,
		"{sample}", string(j.Key),
		"{db}", j.Database,
		"{tmpdir}", j.TempDir,
	)
	return r.Replace(j.Command)
}

// Status classifies a finished job.
type Status int

const (
	// StatusSuccess: the tool exited 0 and every declared output validated.
	StatusSuccess Status = iota

	// StatusWarning: the tool exited 0 but a content-level sanity check
	// failed; the output is retained and surfaced distinctly.
	StatusWarning

	// StatusFailure: the tool exited non-zero, or a declared output was
	// missing or empty. Declared outputs are removed.
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusWarning:
		return "WARNING"
	case StatusFailure:
		return "FAILED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// JobOutcome is the immutable record a job emits exactly once. It is produced
// jointly by the runner and the validator and consumed only by the aggregator.
type JobOutcome struct {
	Key      sample.Key
	ID       string
	Index    int
	Status   Status
	Reason   string
	ExitCode int
	LogPath  string
	Outputs  []string
	Duration time.Duration
}
