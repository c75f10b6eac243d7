package sample

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrNoInputs reports that a discovery pass found zero valid inputs.
//
// This condition is fatal to the stage that requested discovery; individual
// invalid candidates are not.
var ErrNoInputs = errors.New("no valid inputs discovered")

// Rule describes how one stage recognises its inputs.
type Rule struct {
	// Globs are filename patterns, relative to the input directory, matched
	// against forward reads (paired rules) or plain inputs (single-end rules).
	Globs []string

	// Paired requires a mate file resolvable via the fallback naming
	// conventions; candidates whose mate is missing are excluded.
	Paired bool

	// KeySuffix, when set, is trimmed from the filename to derive the sample
	// key (e.g. "_merged.fasta"). When empty, the pair-marker and extension
	// stripping rules of DeriveKey apply.
	KeySuffix string
}

func (r Rule) deriveKey(path string) Key {
	if r.KeySuffix != "" {
		base := filepath.Base(path)
		if trimmed, ok := cutSuffix(base, r.KeySuffix); ok {
			return Key(trimmed)
		}
	}
	return DeriveKey(path)
}

func cutSuffix(s, suffix string) (string, bool) {
	if len(s) > len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)], true
	}
	return s, false
}

// PairedFastqRule matches the paired-end FASTQ naming conventions used
// between stages: *_R1.fastq* with *_R2.fastq* mates, falling back to
// *_1.fastq* / *_2.fastq*.
func PairedFastqRule() Rule {
	return Rule{
		Globs:  []string{"*_R1.fastq*", "*_1.fastq*"},
		Paired: true,
	}
}

// Candidate is one discovered sample: a key plus the ordered input paths
// that belong to it (forward read first, mate second for paired rules).
type Candidate struct {
	Key    Key
	Inputs []string
}

// Exclusion records why a candidate file was rejected during discovery.
// Exclusions are informational; they never fail the pass by themselves.
type Exclusion struct {
	Path   string
	Reason string
}

// Result is the outcome of one discovery pass.
type Result struct {
	// Samples is deduplicated and sorted by Key, so repeated passes over an
	// unchanged directory produce an identical ordered list.
	Samples []Candidate

	// Exclusions lists rejected candidates with their reasons, in the order
	// they were encountered.
	Exclusions []Exclusion
}

// Discover scans dir for inputs matching rule and returns the deterministic
// job-source list for a stage.
//
// Each candidate is validated (exists, readable, non-empty, mate present for
// paired rules); failing candidates are excluded with a recorded reason.
// Discover returns ErrNoInputs when no candidate survives validation.
func Discover(dir string, rule Rule) (*Result, error) {
	if len(rule.Globs) == 0 {
		return nil, fmt.Errorf("discovery rule has no globs")
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("input directory %s: %w", dir, err)
	}

	res := &Result{}
	byKey := make(map[Key]string)

	// Rules may carry overlapping globs (e.g. *.fastq* next to *_R1.fastq*),
	// so matches are deduplicated by path before any candidate is considered.
	seenPath := make(map[string]bool)
	var matches []string
	for _, g := range rule.Globs {
		m, err := filepath.Glob(filepath.Join(dir, g))
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", g, err)
		}
		for _, p := range m {
			if !seenPath[p] {
				seenPath[p] = true
				matches = append(matches, p)
			}
		}
	}
	sort.Strings(matches)

	for _, path := range matches {
		if reason, ok := checkReadable(path); !ok {
			res.Exclusions = append(res.Exclusions, Exclusion{Path: path, Reason: reason})
			continue
		}

		key := rule.deriveKey(path)
		inputs := []string{path}

		if rule.Paired {
			mate, ok := MatePath(path)
			if !ok {
				res.Exclusions = append(res.Exclusions, Exclusion{Path: path, Reason: "no forward-read marker in filename"})
				continue
			}
			if reason, ok := checkReadable(mate); !ok {
				res.Exclusions = append(res.Exclusions, Exclusion{Path: path, Reason: "missing mate: " + reason})
				continue
			}
			inputs = append(inputs, mate)
		}

		if prev, dup := byKey[key]; dup {
			res.Exclusions = append(res.Exclusions, Exclusion{
				Path:   path,
				Reason: fmt.Sprintf("sample key %q already claimed by %s", key, prev),
			})
			continue
		}
		byKey[key] = path
		res.Samples = append(res.Samples, Candidate{Key: key, Inputs: inputs})
	}

	sort.Slice(res.Samples, func(i, j int) bool { return res.Samples[i].Key < res.Samples[j].Key })

	if len(res.Samples) == 0 {
		return res, fmt.Errorf("%w in %s (%d candidates excluded)", ErrNoInputs, dir, len(res.Exclusions))
	}
	return res, nil
}

// checkReadable reports whether path is an existing, readable, non-empty
// regular file. The returned reason is suitable for an Exclusion record.
func checkReadable(path string) (reason string, ok bool) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("%s does not exist", filepath.Base(path)), false
		}
		return err.Error(), false
	}
	if info.IsDir() {
		return "is a directory", false
	}
	if info.Size() == 0 {
		return "file is empty", false
	}
	f, err := os.Open(path)
	if err != nil {
		return "not readable: " + err.Error(), false
	}
	f.Close()
	return "", true
}
