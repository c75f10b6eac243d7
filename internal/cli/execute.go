package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"metapipe/internal/pipeline"
	"metapipe/internal/report"
	"metapipe/internal/state"
	"metapipe/internal/status"
)

// Process exit codes: 0 every sample processed, 1 fatal abort, 2 completed
// with per-sample failures.
const (
	ExitSuccess = pipeline.ExitSuccess
	ExitFatal   = pipeline.ExitFatal
	ExitPartial = pipeline.ExitPartial
)

// Execute runs one invocation end to end and returns the process exit code.
// Interactive input (the variant menu) comes from in; the report goes to out.
func Execute(ctx context.Context, inv Invocation, in io.Reader, out, errw io.Writer) int {
	store, err := state.NewStore(inv.WorkDir)
	if err != nil {
		fmt.Fprintln(errw, err)
		return ExitFatal
	}
	if inv.RunsOnly {
		return listRuns(store, out, errw)
	}

	plan, err := resolvePlan(inv, in, out)
	if err != nil {
		fmt.Fprintln(errw, err)
		return ExitCodeFor(err)
	}
	applyOverrides(plan, inv)

	runID := state.NewRunID()
	board := status.NewBoard(runID, plan.Name)
	seq := &pipeline.Sequencer{
		Plan:     plan,
		WorkDir:  inv.WorkDir,
		KeepTemp: inv.KeepTemp,
		Store:    store,
		Board:    board,
		Logger:   log.New(errw, "metapipe: ", log.LstdFlags),
		RunID:    runID,
	}

	if inv.StatusAddr != "" {
		srv := &http.Server{Addr: inv.StatusAddr, Handler: status.Router(board)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(errw, "status server: %v\n", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
	}

	res, runErr := seq.Run(ctx)
	if runErr != nil {
		fmt.Fprintln(errw, runErr)
	}
	if res == nil {
		return ExitFatal
	}
	fmt.Fprint(out, report.Render(res.Summaries, res.ExitCode))
	return res.ExitCode
}

// resolvePlan picks the plan for this run: an explicit YAML file, an
// explicit built-in variant, or the interactive menu.
func resolvePlan(inv Invocation, in io.Reader, out io.Writer) (*pipeline.Plan, error) {
	if inv.PlanPath != "" {
		return pipeline.LoadPlan(inv.PlanPath)
	}
	return SelectVariant(inv.Variant, pipeline.Variants(), in, out)
}

// applyOverrides pushes run-wide flag overrides into the plan.
func applyOverrides(plan *pipeline.Plan, inv Invocation) {
	if inv.Workers > 0 {
		plan.Workers = inv.Workers
	}
	if inv.Timeout > 0 {
		for i := range plan.Stages {
			if plan.Stages[i].TimeoutS == 0 {
				plan.Stages[i].TimeoutS = int(inv.Timeout / time.Second)
			}
		}
	}
}

func listRuns(store *state.Store, out, errw io.Writer) int {
	ids, err := store.ListRunIDs()
	if err != nil {
		fmt.Fprintln(errw, err)
		return ExitFatal
	}
	for _, id := range ids {
		run, err := store.LoadRun(id)
		if err != nil {
			fmt.Fprintf(out, "%s  (unreadable: %v)\n", id, err)
			continue
		}
		fmt.Fprintf(out, "%s  plan=%s  exit=%d  started=%s\n",
			run.RunID, run.Plan, run.ExitCode, run.StartedAt.Format(time.RFC3339))
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "no recorded runs")
	}
	return ExitSuccess
}
