// Package pipeline defines pipeline plans and the stage sequencer.
//
// A plan is read-only configuration fixed before the first stage runs: an
// ordered list of stage definitions, each parameterizing the same generic
// discovery/limiter/runner/validator/aggregator engine instead of existing as
// its own near-duplicate script.
package pipeline

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"metapipe/internal/engine"
	"metapipe/internal/sample"
)

// StageKind distinguishes per-sample engine stages from single-command
// stages (e.g. a Krona chart or MultiQC report over the whole run).
type StageKind string

const (
	KindPerSample StageKind = "per-sample"
	KindCommand   StageKind = "command"
)

// StageConfig parameterizes one stage of the shared control-flow skeleton.
type StageConfig struct {
	Name string    `yaml:"name"`
	Kind StageKind `yaml:"kind"`

	// InputDir and OutputDir are relative to the pipeline working directory.
	// By convention a stage's OutputDir is the next stage's InputDir.
	InputDir  string `yaml:"input_dir"`
	OutputDir string `yaml:"output_dir"`

	// Globs, Paired and KeySuffix form the discovery rule (per-sample kind).
	Globs     []string `yaml:"globs"`
	Paired    bool     `yaml:"paired"`
	KeySuffix string   `yaml:"key_suffix"`

	// Command is the invocation template (see engine.JobDescriptor).
	Command string `yaml:"command"`

	// Output is the expected artifact filename template, relative to
	// OutputDir; {sample} and {db} are substituted.
	Output string `yaml:"output"`

	// ExtraOutputs declares further artifacts the command produces (same
	// templating), e.g. the reverse read of a trimming stage. They are
	// validated like Output but {output} always refers to Output.
	ExtraOutputs []string `yaml:"extra_outputs"`

	// Databases fans each sample out into one sub-job per entry (e.g. SSU
	// and LSU classification), bounded by SubWorkers.
	Databases []string `yaml:"databases"`

	Workers    int `yaml:"workers"`     // 0 = plan default
	SubWorkers int `yaml:"sub_workers"` // 0 = sequential sub-jobs
	TimeoutS   int `yaml:"timeout_s"`   // 0 = no per-job timeout

	// Checks names the content-level validation rules: "fasta-header",
	// "fasta-records", "fastq-to-fasta-count", "min-lines:N".
	Checks []string `yaml:"checks"`

	// Tools and Refs are probed before any job dispatches.
	Tools []string `yaml:"tools"`
	Refs  []string `yaml:"refs"`
}

// Plan is an ordered sequence of stage definitions plus run-wide defaults.
type Plan struct {
	Name    string        `yaml:"name"`
	Workers int           `yaml:"workers"`
	Stages  []StageConfig `yaml:"stages"`
}

// LoadPlan reads and validates a YAML pipeline plan.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parsing plan %s: %w", path, err)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return &plan, nil
}

// Validate rejects plans the sequencer could not run.
func (p *Plan) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("plan has no name")
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("plan has no stages")
	}
	if p.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	seen := make(map[string]bool, len(p.Stages))
	for i, st := range p.Stages {
		if st.Name == "" {
			return fmt.Errorf("stage %d has no name", i)
		}
		if seen[st.Name] {
			return fmt.Errorf("duplicate stage name %q", st.Name)
		}
		seen[st.Name] = true
		switch st.Kind {
		case KindPerSample:
			if len(st.Globs) == 0 {
				return fmt.Errorf("stage %q: per-sample stage needs globs", st.Name)
			}
			if st.InputDir == "" || st.OutputDir == "" {
				return fmt.Errorf("stage %q: per-sample stage needs input_dir and output_dir", st.Name)
			}
			if st.Output == "" {
				return fmt.Errorf("stage %q: per-sample stage needs an output template", st.Name)
			}
		case KindCommand:
			if st.OutputDir == "" {
				return fmt.Errorf("stage %q: command stage needs output_dir (for its log)", st.Name)
			}
		default:
			return fmt.Errorf("stage %q: unknown kind %q", st.Name, st.Kind)
		}
		if st.Command == "" {
			return fmt.Errorf("stage %q: no command", st.Name)
		}
		if _, err := checksFor(st.Checks); err != nil {
			return fmt.Errorf("stage %q: %w", st.Name, err)
		}
	}
	return nil
}

// rule builds the stage's discovery rule.
func (s StageConfig) rule() sample.Rule {
	return sample.Rule{Globs: s.Globs, Paired: s.Paired, KeySuffix: s.KeySuffix}
}

// checksFor resolves validation rule names into engine content checks.
func checksFor(names []string) ([]engine.ContentCheck, error) {
	var checks []engine.ContentCheck
	for _, name := range names {
		switch {
		case name == "fasta-header":
			checks = append(checks, engine.FastaHeaderCheck())
		case name == "fasta-records":
			checks = append(checks, engine.FastaRecordsCheck())
		case name == "fastq-to-fasta-count":
			checks = append(checks, engine.FastqToFastaCountCheck())
		case strings.HasPrefix(name, "min-lines:"):
			n, err := strconv.Atoi(strings.TrimPrefix(name, "min-lines:"))
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid check %q", name)
			}
			checks = append(checks, engine.MinLinesCheck(n))
		default:
			return nil, fmt.Errorf("unknown check %q", name)
		}
	}
	return checks, nil
}

// Variants returns the fixed set of built-in pipeline plans, selectable by
// the interactive menu (1-based).
//
// Variant 1 merges overlapping read pairs before quality trimming; variant 2
// trims first and merges afterwards. Both then share the FASTA conversion,
// rRNA search and masking, taxonomic classification and visualization tail.
func Variants() []*Plan {
	tail := []StageConfig{
		{
			Name:      "fasta-convert",
			Kind:      KindPerSample,
			InputDir:  "results_trim_merge_qc",
			OutputDir: "fasta_converted",
			Globs:     []string{"*_merged.fq.gz"},
			KeySuffix: "_merged.fq.gz",
			Command:   "seqkit fq2fa {input} -o {output}",
			Output:    "{sample}.fasta",
			Checks:    []string{"fasta-header", "fasta-records"},
			Tools:     []string{"seqkit"},
		},
		{
			Name:       "rrna-search",
			Kind:       KindPerSample,
			InputDir:   "fasta_converted",
			OutputDir:  "cmsearch_results",
			Globs:      []string{"*.fasta"},
			KeySuffix:  ".fasta",
			Command:    "cmsearch --cpu 2 --tblout {output} {db} {input} > /dev/null",
			Output:     "{sample}_{db}.tbl",
			Databases:  []string{"SSU", "LSU"},
			SubWorkers: 2,
			Tools:      []string{"cmsearch"},
		},
		{
			Name:      "mask-sequences",
			Kind:      KindPerSample,
			InputDir:  "fasta_converted",
			OutputDir: "masked",
			Globs:     []string{"*.fasta"},
			KeySuffix: ".fasta",
			Command:   "awk '!/^#/ {print $1\"\\t\"$8-1\"\\t\"$9}' cmsearch_results/{sample}_SSU.tbl cmsearch_results/{sample}_LSU.tbl > {tmpdir}/{sample}.bed && bedtools maskfasta -fi {input} -bed {tmpdir}/{sample}.bed -fo {output}",
			Output:    "{sample}_masked.fasta",
			Checks:    []string{"fasta-header"},
			Tools:     []string{"awk", "bedtools"},
		},
		{
			Name:      "classify",
			Kind:      KindPerSample,
			InputDir:  "masked",
			OutputDir: "mapseq_out",
			Globs:     []string{"*_masked.fasta"},
			KeySuffix: "_masked.fasta",
			Command:   "mapseq {input} > {output}",
			Output:    "{sample}.otu",
			Checks:    []string{"min-lines:2"},
			Tools:     []string{"mapseq"},
		},
		{
			Name:      "krona-charts",
			Kind:      KindCommand,
			InputDir:  "mapseq_out",
			OutputDir: "krona",
			Command:   "ktImportText mapseq_out/*.otu -o krona/krona.html",
			Tools:     []string{"ktImportText"},
		},
	}

	mergeFirst := &Plan{
		Name:    "merge-first",
		Workers: 4,
		Stages: append([]StageConfig{{
			Name:      "merge-trim",
			Kind:      KindPerSample,
			InputDir:  "raw",
			OutputDir: "results_trim_merge_qc",
			Globs:     []string{"*_R1.fastq*", "*_1.fastq*"},
			Paired:    true,
			Command:   "SeqPrep -f {input} -r {input2} -1 {tmpdir}/r1.fq.gz -2 {tmpdir}/r2.fq.gz -s {output}",
			Output:    "{sample}_merged.fq.gz",
			Tools:     []string{"SeqPrep"},
		}}, tail...),
	}

	trimFirst := &Plan{
		Name:    "trim-first",
		Workers: 4,
		Stages: append([]StageConfig{{
			Name:         "trim",
			Kind:         KindPerSample,
			InputDir:     "raw",
			OutputDir:    "trimmed",
			Globs:        []string{"*_R1.fastq*", "*_1.fastq*"},
			Paired:       true,
			Command:      "trimmomatic PE {input} {input2} {tmpdir}/f.fq.gz {tmpdir}/fu.fq.gz {tmpdir}/r.fq.gz {tmpdir}/ru.fq.gz SLIDINGWINDOW:4:15 MINLEN:100 && cp {tmpdir}/f.fq.gz {output} && cp {tmpdir}/r.fq.gz {outdir}/{sample}_R2.fastq.gz",
			Output:       "{sample}_R1.fastq.gz",
			ExtraOutputs: []string{"{sample}_R2.fastq.gz"},
			Tools:        []string{"trimmomatic"},
		}, {
			Name:      "merge",
			Kind:      KindPerSample,
			InputDir:  "trimmed",
			OutputDir: "results_trim_merge_qc",
			Globs:     []string{"*_R1.fastq*", "*_1.fastq*"},
			Paired:    true,
			Command:   "flash {input} {input2} -d {tmpdir} -o {sample} && gzip -c {tmpdir}/{sample}.extendedFrags.fastq > {output}",
			Output:    "{sample}_merged.fq.gz",
			Tools:     []string{"flash", "gzip"},
		}}, tail...),
	}

	return []*Plan{mergeFirst, trimFirst}
}
