// Package report renders the end-of-run summary printed to the console.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/guptarohit/asciigraph"
	"gonum.org/v1/gonum/stat"

	"metapipe/internal/engine"
)

// DurationStats summarizes per-job wall times within one stage.
type DurationStats struct {
	Mean   float64
	StdDev float64
}

// Stats computes mean and standard deviation of the stage's job durations
// in seconds. Stages with fewer than two jobs report zero deviation.
func Stats(durationsS []float64) DurationStats {
	if len(durationsS) == 0 {
		return DurationStats{}
	}
	ds := DurationStats{Mean: stat.Mean(durationsS, nil)}
	if len(durationsS) > 1 {
		ds.StdDev = stat.StdDev(durationsS, nil)
	}
	return ds
}

// Render formats the final pipeline report: one line per stage with counts
// and timing, the identities of failed and warned jobs, a stage-duration
// chart when at least two stages ran, and a pointer at the log directory.
func Render(summaries []engine.StageSummary, exitCode int) string {
	var b strings.Builder
	b.WriteString("pipeline report\n")
	b.WriteString(strings.Repeat("-", 64) + "\n")

	var stageSeconds []float64
	for _, sum := range summaries {
		ds := Stats(sum.DurationsS)
		fmt.Fprintf(&b, "%-18s %3d total  %3d ok  %3d warn  %3d failed  %8s",
			sum.Stage, sum.Total, sum.Succeeded, sum.Warned, sum.Failed,
			sum.Elapsed.Round(time.Millisecond))
		if sum.Total > 0 {
			fmt.Fprintf(&b, "  (job mean %.2fs sd %.2fs)", ds.Mean, ds.StdDev)
		}
		b.WriteByte('\n')
		for _, id := range sum.FailedIDs {
			fmt.Fprintf(&b, "    FAILED: %s\n", id)
		}
		for _, id := range sum.WarnedIDs {
			fmt.Fprintf(&b, "    WARNING: %s\n", id)
		}
		stageSeconds = append(stageSeconds, sum.Elapsed.Seconds())
	}

	if len(stageSeconds) > 1 {
		b.WriteString("\nstage durations (s):\n")
		b.WriteString(asciigraph.Plot(stageSeconds,
			asciigraph.Height(5),
			asciigraph.Precision(0),
		))
		b.WriteByte('\n')
	}

	if dir := logDir(summaries); dir != "" {
		fmt.Fprintf(&b, "\nper-job logs under %s\n", dir)
	}

	switch exitCode {
	case 0:
		b.WriteString("\nresult: all samples processed\n")
	case 2:
		b.WriteString("\nresult: completed with per-sample failures\n")
	default:
		b.WriteString("\nresult: aborted\n")
	}
	return b.String()
}

func logDir(summaries []engine.StageSummary) string {
	for i := len(summaries) - 1; i >= 0; i-- {
		if summaries[i].LogDir != "" {
			return summaries[i].LogDir
		}
	}
	return ""
}
