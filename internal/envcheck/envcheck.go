// Package envcheck probes the external environment before any job runs, so
// a missing tool or reference database fails the pipeline up front instead
// of N samples deep into a stage.
package envcheck

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/exascience/pargo/parallel"
)

// Error reports every missing tool and reference found by one probe.
type Error struct {
	MissingTools []string
	MissingRefs  []string
}

func (e *Error) Error() string {
	var parts []string
	if len(e.MissingTools) > 0 {
		parts = append(parts, fmt.Sprintf("missing tools: %s", strings.Join(e.MissingTools, ", ")))
	}
	if len(e.MissingRefs) > 0 {
		parts = append(parts, fmt.Sprintf("missing references: %s", strings.Join(e.MissingRefs, ", ")))
	}
	return "environment check: " + strings.Join(parts, "; ")
}

// Probe checks that every tool resolves on PATH and every reference path
// exists. Probes run in parallel; the error lists all missing items sorted,
// not just the first.
func Probe(tools, refs []string) error {
	var mu sync.Mutex
	var missingTools, missingRefs []string

	parallel.Range(0, len(tools), 0, func(low, high int) {
		for i := low; i < high; i++ {
			if _, err := exec.LookPath(tools[i]); err != nil {
				mu.Lock()
				missingTools = append(missingTools, tools[i])
				mu.Unlock()
			}
		}
	})
	parallel.Range(0, len(refs), 0, func(low, high int) {
		for i := low; i < high; i++ {
			if _, err := os.Stat(refs[i]); err != nil {
				mu.Lock()
				missingRefs = append(missingRefs, refs[i])
				mu.Unlock()
			}
		}
	})

	if len(missingTools) == 0 && len(missingRefs) == 0 {
		return nil
	}
	sort.Strings(missingTools)
	sort.Strings(missingRefs)
	return &Error{MissingTools: missingTools, MissingRefs: missingRefs}
}
