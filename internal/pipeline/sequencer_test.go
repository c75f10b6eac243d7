package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"metapipe/internal/sample"
	"metapipe/internal/state"
	"metapipe/internal/status"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func seedRawDir(t *testing.T, workDir string, names ...string) {
	t.Helper()
	raw := filepath.Join(workDir, "raw")
	if err := os.MkdirAll(raw, 0o755); err != nil {
		t.Fatalf("mkdir raw: %v", err)
	}
	for _, name := range names {
		path := filepath.Join(raw, name)
		if err := os.WriteFile(path, []byte("@r\nACGT\n+\nIIII\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func twoStagePlan() *Plan {
	return &Plan{
		Name:    "smoke",
		Workers: 2,
		Stages: []StageConfig{
			{
				Name:      "copy",
				Kind:      KindPerSample,
				InputDir:  "raw",
				OutputDir: "mid",
				Globs:     []string{"*.fastq"},
				KeySuffix: ".fastq",
				Command:   "cat {input} > {output}",
				Output:    "{sample}.fq",
			},
			{
				Name:      "to-fasta",
				Kind:      KindPerSample,
				InputDir:  "mid",
				OutputDir: "out",
				Globs:     []string{"*.fq"},
				KeySuffix: ".fq",
				Command:   "printf '>{sample}\\nACGT\\n' > {output}",
				Output:    "{sample}.fasta",
				Checks:    []string{"fasta-header"},
			},
		},
	}
}

func TestSequencer_CleanRun(t *testing.T) {
	workDir := t.TempDir()
	seedRawDir(t, workDir, "a.fastq", "b.fastq")

	store, err := state.NewStore(workDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	board := status.NewBoard("ignored", "smoke")
	seq := &Sequencer{
		Plan:    twoStagePlan(),
		WorkDir: workDir,
		Store:   store,
		Board:   board,
		Logger:  quietLogger(),
	}

	res, err := seq.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != ExitSuccess || res.Partial {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Summaries) != 2 {
		t.Fatalf("summaries = %+v", res.Summaries)
	}
	for _, name := range []string{"copy", "to-fasta"} {
		if res.States[name] != StateCompleted {
			t.Fatalf("state[%s] = %s", name, res.States[name])
		}
	}
	for _, s := range []string{"a", "b"} {
		if _, err := os.Stat(filepath.Join(workDir, "out", s+".fasta")); err != nil {
			t.Fatalf("missing final artifact for %s: %v", s, err)
		}
	}

	// Run record and per-stage summaries persisted.
	run, err := store.LoadRun(res.RunID)
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if run.ExitCode != ExitSuccess || len(run.Stages) != 2 {
		t.Fatalf("persisted run = %+v", run)
	}
	if _, err := store.LoadStageSummary(res.RunID, "copy"); err != nil {
		t.Fatalf("LoadStageSummary: %v", err)
	}
	if snap := board.Snapshot(); len(snap) != 2 {
		t.Fatalf("board snapshot = %+v", snap)
	}
}

func TestSequencer_SampleFailureYieldsPartialExit(t *testing.T) {
	workDir := t.TempDir()
	seedRawDir(t, workDir, "a.fastq", "b.fastq", "c.fastq")

	plan := twoStagePlan()
	// Sample b fails in the first stage; the others must still flow through.
	plan.Stages[0].Command = "test {sample} != b && cat {input} > {output}"

	seq := &Sequencer{Plan: plan, WorkDir: workDir, Logger: quietLogger()}
	res, err := seq.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != ExitPartial || !res.Partial {
		t.Fatalf("result = %+v, want partial exit", res)
	}
	if res.Summaries[0].Failed != 1 || res.Summaries[0].Succeeded != 2 {
		t.Fatalf("first stage summary = %+v", res.Summaries[0])
	}
	// The failed sample never reaches the second stage.
	if res.Summaries[1].Total != 2 {
		t.Fatalf("second stage summary = %+v", res.Summaries[1])
	}
	if _, err := os.Stat(filepath.Join(workDir, "out", "a.fasta")); err != nil {
		t.Fatalf("surviving sample missing artifact: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workDir, "out", "b.fasta")); !os.IsNotExist(err) {
		t.Fatal("failed sample produced a final artifact")
	}
}

func TestSequencer_EmptyInputDirIsFatal(t *testing.T) {
	workDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(workDir, "raw"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	seq := &Sequencer{Plan: twoStagePlan(), WorkDir: workDir, Logger: quietLogger()}
	res, err := seq.Run(context.Background())
	if !errors.Is(err, sample.ErrNoInputs) {
		t.Fatalf("err = %v, want ErrNoInputs", err)
	}
	if res.ExitCode != ExitFatal {
		t.Fatalf("exit = %d, want fatal", res.ExitCode)
	}
	if res.States["copy"] != StateFailed || res.States["to-fasta"] != StatePending {
		t.Fatalf("states = %+v", res.States)
	}
}

func TestSequencer_MissingToolIsFatalBeforeDispatch(t *testing.T) {
	workDir := t.TempDir()
	seedRawDir(t, workDir, "a.fastq")

	plan := twoStagePlan()
	plan.Stages[0].Tools = []string{"tool-that-does-not-exist-zz"}

	seq := &Sequencer{Plan: plan, WorkDir: workDir, Logger: quietLogger()}
	res, err := seq.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if res.ExitCode != ExitFatal {
		t.Fatalf("exit = %d", res.ExitCode)
	}
	if _, statErr := os.Stat(filepath.Join(workDir, "mid")); !os.IsNotExist(statErr) {
		t.Fatal("stage ran despite failed environment check")
	}
}

func TestSequencer_CommandStageFalseAlarmContinues(t *testing.T) {
	workDir := t.TempDir()
	seedRawDir(t, workDir, "a.fastq")

	plan := twoStagePlan()
	plan.Stages = append(plan.Stages, StageConfig{
		Name:      "chart",
		Kind:      KindCommand,
		OutputDir: "chart",
		Command:   "echo no hits found; exit 1",
	})

	seq := &Sequencer{Plan: plan, WorkDir: workDir, Logger: quietLogger()}
	res, err := seq.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.States["chart"] != StateSkippedFalseAlarm {
		t.Fatalf("chart state = %s", res.States["chart"])
	}
	if res.ExitCode != ExitSuccess {
		t.Fatalf("exit = %d", res.ExitCode)
	}
}

func TestSequencer_CommandStageRealFailureAborts(t *testing.T) {
	workDir := t.TempDir()
	seedRawDir(t, workDir, "a.fastq")

	plan := twoStagePlan()
	plan.Stages = append(plan.Stages,
		StageConfig{
			Name:      "chart",
			Kind:      KindCommand,
			OutputDir: "chart",
			Command:   "echo Exception: segmentation fault; exit 1",
		},
		StageConfig{
			Name:      "never-reached",
			Kind:      KindCommand,
			OutputDir: "late",
			Command:   "true",
		},
	)

	seq := &Sequencer{Plan: plan, WorkDir: workDir, Logger: quietLogger()}
	res, err := seq.Run(context.Background())
	if err == nil {
		t.Fatal("expected fatal error")
	}
	if res.ExitCode != ExitFatal {
		t.Fatalf("exit = %d", res.ExitCode)
	}
	if res.States["chart"] != StateFailed {
		t.Fatalf("chart state = %s", res.States["chart"])
	}
	if res.States["never-reached"] != StatePending {
		t.Fatalf("later stage state = %s", res.States["never-reached"])
	}
}

// A caller-assigned run ID must be the one under which the run is persisted,
// so external views keyed on that ID (the status API) match the run store.
func TestSequencer_HonorsProvidedRunID(t *testing.T) {
	workDir := t.TempDir()
	seedRawDir(t, workDir, "a.fastq")

	store, err := state.NewStore(workDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	seq := &Sequencer{
		Plan:    twoStagePlan(),
		WorkDir: workDir,
		Store:   store,
		Logger:  quietLogger(),
		RunID:   "preassigned-run",
	}
	res, err := seq.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RunID != "preassigned-run" {
		t.Fatalf("run id = %q", res.RunID)
	}
	if _, err := store.LoadRun("preassigned-run"); err != nil {
		t.Fatalf("run not stored under the assigned id: %v", err)
	}
}

func stubTool(t *testing.T, dir, name, script string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("stub %s: %v", name, err)
	}
}

// The trim-first head must hand the merge stage a complete read pair: the
// trim stage emits forward and reverse trimmed reads, and merge discovers
// them as one paired sample.
func TestSequencer_TrimFirstHeadProducesMergedReads(t *testing.T) {
	workDir := t.TempDir()
	raw := filepath.Join(workDir, "raw")
	if err := os.MkdirAll(raw, 0o755); err != nil {
		t.Fatalf("mkdir raw: %v", err)
	}
	for _, name := range []string{"A_R1.fastq.gz", "A_R2.fastq.gz"} {
		if err := os.WriteFile(filepath.Join(raw, name), []byte("@r\nACGT\n+\nIIII\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	// Stub the external trimmer and merger with their argument contracts.
	bin := t.TempDir()
	stubTool(t, bin, "trimmomatic", `shift; cp "$1" "$3"; cp "$1" "$4"; cp "$2" "$5"; cp "$2" "$6"`)
	stubTool(t, bin, "flash", `cat "$1" "$2" > "$4/$6.extendedFrags.fastq"`)
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))

	plan := Variants()[1]
	plan.Stages = plan.Stages[:2] // trim, then merge

	seq := &Sequencer{Plan: plan, WorkDir: workDir, Logger: quietLogger()}
	res, err := seq.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != ExitSuccess {
		t.Fatalf("result = %+v", res)
	}
	for _, path := range []string{
		filepath.Join(workDir, "trimmed", "A_R1.fastq.gz"),
		filepath.Join(workDir, "trimmed", "A_R2.fastq.gz"),
		filepath.Join(workDir, "results_trim_merge_qc", "A_merged.fq.gz"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("missing artifact %s: %v", path, err)
		}
	}
	if res.Summaries[1].Succeeded != 1 {
		t.Fatalf("merge summary = %+v", res.Summaries[1])
	}
}

func TestSequencer_DatabaseFanOut(t *testing.T) {
	workDir := t.TempDir()
	seedRawDir(t, workDir, "a.fastq", "b.fastq")

	plan := &Plan{
		Name:    "fanout",
		Workers: 2,
		Stages: []StageConfig{{
			Name:       "search",
			Kind:       KindPerSample,
			InputDir:   "raw",
			OutputDir:  "hits",
			Globs:      []string{"*.fastq"},
			KeySuffix:  ".fastq",
			Command:    "printf '{sample} {db}\\n' > {output}",
			Output:     "{sample}_{db}.tbl",
			Databases:  []string{"SSU", "LSU"},
			SubWorkers: 2,
		}},
	}

	seq := &Sequencer{Plan: plan, WorkDir: workDir, Logger: quietLogger()}
	res, err := seq.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summaries[0].Total != 4 || res.Summaries[0].Succeeded != 4 {
		t.Fatalf("summary = %+v", res.Summaries[0])
	}
	for _, name := range []string{"a_SSU.tbl", "a_LSU.tbl", "b_SSU.tbl", "b_LSU.tbl"} {
		if _, err := os.Stat(filepath.Join(workDir, "hits", name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
}
