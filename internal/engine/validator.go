package engine

import (
	"fmt"
	"os"

	"metapipe/internal/seqio"
)

// ContentCheck is one content-level sanity rule applied to a job's outputs
// after the mechanical existence checks pass.
//
// A failing check downgrades the job to StatusWarning rather than failing it:
// "tool ran but produced suspicious output" must surface differently from
// "tool crashed". The suspicious output is retained for inspection.
type ContentCheck func(job JobDescriptor) error

// Validator turns a raw runner outcome into a validated one.
type Validator struct {
	Checks []ContentCheck
}

// Validate applies the output contract to a finished job.
//
// Exit != 0, or a declared output that is missing or empty, is a hard
// failure; every declared output is then removed so no partial or corrupt
// artifact survives for a later stage to consume. Content-check failures on
// an exit-0 job downgrade to a warning and keep the artifact.
func (v *Validator) Validate(job JobDescriptor, out JobOutcome) JobOutcome {
	if out.Status == StatusFailure {
		removeOutputs(job.Outputs)
		return out
	}

	for _, path := range job.Outputs {
		info, err := os.Stat(path)
		switch {
		case err != nil:
			out.Status = StatusFailure
			out.Reason = fmt.Sprintf("expected output missing: %s", path)
			removeOutputs(job.Outputs)
			return out
		case info.Size() == 0:
			out.Status = StatusFailure
			out.Reason = fmt.Sprintf("expected output is empty: %s", path)
			removeOutputs(job.Outputs)
			return out
		}
	}

	for _, check := range v.Checks {
		if err := check(job); err != nil {
			out.Status = StatusWarning
			out.Reason = err.Error()
			return out
		}
	}
	return out
}

func removeOutputs(outputs []string) {
	for _, p := range outputs {
		os.Remove(p)
	}
}

// FastaHeaderCheck verifies each declared output starts with a FASTA header.
func FastaHeaderCheck() ContentCheck {
	return func(job JobDescriptor) error {
		for _, p := range job.Outputs {
			if err := seqio.SniffFastaHeader(p); err != nil {
				return err
			}
		}
		return nil
	}
}

// MinLinesCheck requires each declared output to contain at least n real lines.
func MinLinesCheck(n int) ContentCheck {
	return func(job JobDescriptor) error {
		for _, p := range job.Outputs {
			lines, err := seqio.CountLines(p)
			if err != nil {
				return err
			}
			if lines < n {
				return fmt.Errorf("%s: %d lines, expected at least %d", p, lines, n)
			}
		}
		return nil
	}
}

// FastaRecordsCheck requires the first declared output to contain at least
// one FASTA record.
func FastaRecordsCheck() ContentCheck {
	return func(job JobDescriptor) error {
		if len(job.Outputs) == 0 {
			return nil
		}
		n, err := seqio.CountFastaRecords(job.Outputs[0])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%s: no FASTA records", job.Outputs[0])
		}
		return nil
	}
}

// FastqToFastaCountCheck verifies a format-conversion job: the FASTA record
// count of the first output must equal the FASTQ record count of the first
// input.
func FastqToFastaCountCheck() ContentCheck {
	return func(job JobDescriptor) error {
		if len(job.Inputs) == 0 || len(job.Outputs) == 0 {
			return nil
		}
		in, err := seqio.CountFastqRecords(job.Inputs[0])
		if err != nil {
			return err
		}
		outN, err := seqio.CountFastaRecords(job.Outputs[0])
		if err != nil {
			return err
		}
		if in != outN {
			return fmt.Errorf("%s: %d records, input %s has %d", job.Outputs[0], outN, job.Inputs[0], in)
		}
		return nil
	}
}
