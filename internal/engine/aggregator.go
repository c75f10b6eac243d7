package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/willf/bitset"
)

// StageSummary is the order-independent fold of every JobOutcome of a stage.
//
// It is built incrementally by the aggregator and finalized once all
// dispatched jobs have reported; Succeeded+Warned+Failed always equals the
// number of distinct jobs ingested.
type StageSummary struct {
	Stage      string        `json:"stage"`
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Warned     int           `json:"warned"`
	Failed     int           `json:"failed"`
	FailedIDs  []string      `json:"failed_ids"`
	WarnedIDs  []string      `json:"warned_ids"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	StatusLog  string        `json:"status_log"`
	LogDir     string        `json:"log_dir"`
	DurationsS []float64     `json:"durations_s"`
}

// Aggregator collects JobOutcomes as jobs complete, in any order.
//
// A single goroutine owns the summary and mutates it from an outcome channel;
// workers only send. Ingestion is idempotent per job index: a job reporting
// twice never double-counts (the guard is a bitset over the stable indices
// assigned at discovery). Each outcome also appends one line-atomic record to
// the stage's status log.
type Aggregator struct {
	outcomes chan JobOutcome
	done     chan struct{}

	seen    *bitset.BitSet
	summary StageSummary
	start   time.Time
	logFile *os.File
}

// NewAggregator starts the collection goroutine for one stage of total jobs.
// statusLogPath is created (truncated) immediately; pass "" to skip the
// persisted log.
func NewAggregator(stage string, total int, statusLogPath string) (*Aggregator, error) {
	a := &Aggregator{
		outcomes: make(chan JobOutcome, total),
		done:     make(chan struct{}),
		seen:     bitset.New(uint(total)),
		start:    time.Now(),
		summary: StageSummary{
			Stage:     stage,
			Total:     total,
			StatusLog: statusLogPath,
		},
	}
	if statusLogPath != "" {
		if err := os.MkdirAll(filepath.Dir(statusLogPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating status log dir: %w", err)
		}
		f, err := os.OpenFile(statusLogPath, os.O_CREATE|os.O_TRUNC|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("creating status log: %w", err)
		}
		a.logFile = f
		a.summary.LogDir = filepath.Dir(statusLogPath)
	}
	go a.collect()
	return a, nil
}

// Ingest reports one finished job. Safe for concurrent use; never blocks
// longer than the channel send.
func (a *Aggregator) Ingest(out JobOutcome) {
	a.outcomes <- out
}

// Wait closes ingestion and returns the finalized summary. It must be called
// exactly once, after every dispatched job has been ingested.
func (a *Aggregator) Wait() StageSummary {
	close(a.outcomes)
	<-a.done
	return a.summary
}

func (a *Aggregator) collect() {
	defer close(a.done)
	for out := range a.outcomes {
		a.ingest(out)
	}
	a.finalize()
}

func (a *Aggregator) ingest(out JobOutcome) {
	idx := uint(out.Index)
	if a.seen.Test(idx) {
		return
	}
	a.seen.Set(idx)

	switch out.Status {
	case StatusSuccess:
		a.summary.Succeeded++
	case StatusWarning:
		a.summary.Warned++
		a.summary.WarnedIDs = append(a.summary.WarnedIDs, out.ID)
	case StatusFailure:
		a.summary.Failed++
		a.summary.FailedIDs = append(a.summary.FailedIDs, out.ID)
	}
	a.summary.DurationsS = append(a.summary.DurationsS, out.Duration.Seconds())
	a.logLine(out)
}

// logLine appends the job's status line. One Write call per line keeps
// appends line-atomic.
func (a *Aggregator) logLine(out JobOutcome) {
	if a.logFile == nil {
		return
	}
	var line string
	switch out.Status {
	case StatusFailure:
		line = fmt.Sprintf("FAILED: %s\n", out.ID)
	case StatusWarning:
		line = fmt.Sprintf("WARNING: %s\n", out.ID)
	default:
		line = fmt.Sprintf("SUCCESS: %s\n", out.ID)
	}
	a.logFile.WriteString(line)
}

func (a *Aggregator) finalize() {
	sort.Strings(a.summary.FailedIDs)
	sort.Strings(a.summary.WarnedIDs)
	a.summary.Elapsed = time.Since(a.start)
	if a.logFile != nil {
		a.logFile.Close()
	}
}
