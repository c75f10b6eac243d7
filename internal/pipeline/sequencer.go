package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"metapipe/internal/engine"
	"metapipe/internal/envcheck"
	"metapipe/internal/sample"
	"metapipe/internal/state"
	"metapipe/internal/status"
)

// StageState tracks a stage through the run.
type StageState string

const (
	StatePending           StageState = "pending"
	StateRunning           StageState = "running"
	StateCompleted         StageState = "completed"
	StateFailed            StageState = "failed"
	StateSkippedFalseAlarm StageState = "skipped-false-alarm"
)

// Process exit codes.
const (
	ExitSuccess = 0
	ExitFatal   = 1
	ExitPartial = 2
)

// Result is the outcome of one pipeline run.
type Result struct {
	RunID     string
	ExitCode  int
	Partial   bool
	Summaries []engine.StageSummary
	States    map[string]StageState
}

// Sequencer drives a plan's stages in order. Stages run strictly
// sequentially; parallelism lives inside a stage, across samples.
type Sequencer struct {
	Plan       *Plan
	WorkDir    string
	KeepTemp   bool
	Classifier Classifier
	Store      *state.Store
	Board      *status.Board
	Logger     *log.Logger

	// RunID identifies this run everywhere it is reported (run store,
	// status API, result). Empty means a fresh ID is generated.
	RunID string
}

// Run executes every stage of the plan.
//
// A fatal condition (missing tool or reference, zero discovered samples, a
// real command-stage failure) aborts the run with ExitFatal; individual
// sample failures never do. A run where every stage completed but at least
// one sample failed somewhere finishes with ExitPartial.
func (q *Sequencer) Run(ctx context.Context) (*Result, error) {
	if q.Plan == nil {
		return nil, errors.New("no plan")
	}
	if q.Classifier == nil {
		q.Classifier = NewKeywordClassifier()
	}
	if q.Logger == nil {
		q.Logger = log.Default()
	}

	if q.RunID == "" {
		q.RunID = state.NewRunID()
	}
	res := &Result{
		RunID:  q.RunID,
		States: make(map[string]StageState, len(q.Plan.Stages)),
	}
	for _, st := range q.Plan.Stages {
		res.States[st.Name] = StatePending
	}

	run := state.Run{
		RunID:     res.RunID,
		Plan:      q.Plan.Name,
		WorkDir:   q.WorkDir,
		StartedAt: time.Now().UTC(),
	}
	if q.Store != nil {
		if err := q.Store.SaveRun(run); err != nil {
			return nil, fmt.Errorf("recording run: %w", err)
		}
	}

	var fatal error
	for _, st := range q.Plan.Stages {
		res.States[st.Name] = StateRunning
		q.Logger.Printf("stage %s: starting", st.Name)

		if err := envcheck.Probe(st.Tools, st.Refs); err != nil {
			res.States[st.Name] = StateFailed
			fatal = fmt.Errorf("stage %s: %w", st.Name, err)
			break
		}

		var (
			sum engine.StageSummary
			end StageState
			err error
		)
		switch st.Kind {
		case KindPerSample:
			sum, err = q.runPerSample(ctx, st)
			end = StateCompleted
		case KindCommand:
			sum, end, err = q.runCommand(ctx, st)
		}
		if err != nil {
			res.States[st.Name] = StateFailed
			fatal = fmt.Errorf("stage %s: %w", st.Name, err)
			break
		}

		res.States[st.Name] = end
		res.Summaries = append(res.Summaries, sum)
		run.Stages = append(run.Stages, st.Name)
		if sum.Failed > 0 {
			res.Partial = true
		}
		if q.Store != nil {
			if err := q.Store.SaveStageSummary(res.RunID, sum); err != nil {
				q.Logger.Printf("stage %s: persisting summary: %v", st.Name, err)
			}
		}
		if q.Board != nil {
			q.Board.Publish(sum)
		}
		q.Logger.Printf("stage %s: %d/%d succeeded, %d warned, %d failed (%s)",
			st.Name, sum.Succeeded, sum.Total, sum.Warned, sum.Failed,
			sum.Elapsed.Round(time.Millisecond))
	}

	switch {
	case fatal != nil:
		res.ExitCode = ExitFatal
	case res.Partial:
		res.ExitCode = ExitPartial
	default:
		res.ExitCode = ExitSuccess
	}

	run.FinishedAt = time.Now().UTC()
	run.ExitCode = res.ExitCode
	run.Partial = res.Partial
	if q.Store != nil {
		if err := q.Store.SaveRun(run); err != nil {
			q.Logger.Printf("recording run completion: %v", err)
		}
	}
	return res, fatal
}

// runPerSample discovers samples, fans them out through the engine and
// folds outcomes into a stage summary.
func (q *Sequencer) runPerSample(ctx context.Context, st StageConfig) (engine.StageSummary, error) {
	inputDir := filepath.Join(q.WorkDir, st.InputDir)
	outputDir := filepath.Join(q.WorkDir, st.OutputDir)
	logDir := filepath.Join(outputDir, "logs")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return engine.StageSummary{}, err
	}

	disc, err := sample.Discover(inputDir, st.rule())
	if err != nil {
		return engine.StageSummary{}, err
	}
	for _, ex := range disc.Exclusions {
		q.Logger.Printf("stage %s: excluding %s: %s", st.Name, ex.Path, ex.Reason)
	}

	jobs := q.buildJobs(st, disc.Samples, outputDir, logDir)

	checks, err := checksFor(st.Checks)
	if err != nil {
		return engine.StageSummary{}, err
	}
	limiter, err := engine.NewLimiter(q.workersFor(st))
	if err != nil {
		return engine.StageSummary{}, err
	}
	eng := &engine.Engine{
		Limiter: limiter,
		Runner: &engine.Runner{
			Timeout:  time.Duration(st.TimeoutS) * time.Second,
			KeepTemp: q.KeepTemp,
			Dir:      q.WorkDir,
		},
		Validator: &engine.Validator{Checks: checks},
	}
	if st.SubWorkers > 1 && len(st.Databases) > 1 {
		if eng.SubLimiter, err = engine.NewLimiter(st.SubWorkers); err != nil {
			return engine.StageSummary{}, err
		}
	}

	agg, err := engine.NewAggregator(st.Name, len(jobs), filepath.Join(logDir, "status.log"))
	if err != nil {
		return engine.StageSummary{}, err
	}
	eng.Run(ctx, jobs, agg)
	sum := agg.Wait()
	sum.LogDir = logDir
	return sum, ctx.Err()
}

// buildJobs expands each discovered sample (times each database, if any)
// into a job descriptor.
func (q *Sequencer) buildJobs(st StageConfig, samples []sample.Candidate, outputDir, logDir string) []engine.JobDescriptor {
	dbs := st.Databases
	if len(dbs) == 0 {
		dbs = []string{""}
	}
	jobs := make([]engine.JobDescriptor, 0, len(samples)*len(dbs))
	for _, cand := range samples {
		for _, db := range dbs {
			outputs := []string{filepath.Join(outputDir, expandName(st.Output, cand.Key, db))}
			for _, extra := range st.ExtraOutputs {
				outputs = append(outputs, filepath.Join(outputDir, expandName(extra, cand.Key, db)))
			}
			job := engine.JobDescriptor{
				Key:      cand.Key,
				Index:    len(jobs),
				Database: db,
				Inputs:   cand.Inputs,
				Command:  st.Command,
				Outputs:  outputs,
			}
			job.LogPath = filepath.Join(logDir, job.ID()+".log")
			job.TempDir = filepath.Join(outputDir, "tmp", job.ID())
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// runCommand executes a whole-run auxiliary command once. A non-zero exit
// goes through the classifier: false alarms mark the stage skipped and the
// run continues, real failures abort.
func (q *Sequencer) runCommand(ctx context.Context, st StageConfig) (engine.StageSummary, StageState, error) {
	outputDir := filepath.Join(q.WorkDir, st.OutputDir)
	logDir := filepath.Join(outputDir, "logs")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return engine.StageSummary{}, StateFailed, err
	}

	job := engine.JobDescriptor{
		Key:     sample.Key(st.Name),
		Command: st.Command,
		LogPath: filepath.Join(logDir, st.Name+".log"),
		TempDir: filepath.Join(outputDir, "tmp", st.Name),
	}
	runner := &engine.Runner{
		Timeout:  time.Duration(st.TimeoutS) * time.Second,
		KeepTemp: q.KeepTemp,
		Dir:      q.WorkDir,
	}

	start := time.Now()
	out := runner.Run(ctx, job)
	sum := engine.StageSummary{
		Stage:   st.Name,
		Total:   1,
		Elapsed: time.Since(start),
		LogDir:  logDir,
	}

	if out.Status == engine.StatusSuccess {
		sum.Succeeded = 1
		return sum, StateCompleted, nil
	}
	if ctx.Err() != nil {
		return sum, StateFailed, fmt.Errorf("cancelled: %w", ctx.Err())
	}
	if q.Classifier.Classify(out.ExitCode, job.LogPath) == VerdictFalseAlarm {
		q.Logger.Printf("stage %s: exit %d classified as false alarm, continuing", st.Name, out.ExitCode)
		sum.Warned = 1
		sum.WarnedIDs = []string{st.Name}
		return sum, StateSkippedFalseAlarm, nil
	}
	sum.Failed = 1
	sum.FailedIDs = []string{st.Name}
	return sum, StateFailed, fmt.Errorf("command failed with exit %d (%s), see %s", out.ExitCode, out.Reason, job.LogPath)
}

func (q *Sequencer) workersFor(st StageConfig) int {
	if st.Workers > 0 {
		return st.Workers
	}
	if q.Plan.Workers > 0 {
		return q.Plan.Workers
	}
	return runtime.NumCPU()
}

// expandName substitutes {sample} and {db} in an artifact name template.
func expandName(tmpl string, key sample.Key, db string) string {
	return strings.NewReplacer("{sample}", string(key), "{db}", db).Replace(tmpl)
}
