package engine

import (
	"context"
	"sync"

	"metapipe/internal/sample"
)

// Engine runs one stage's job list: it fans jobs out under the sample-level
// limiter, optionally nests a second limiter for within-sample sub-jobs, and
// funnels validated outcomes into the aggregator.
type Engine struct {
	Limiter *Limiter // sample-level concurrency, required

	// SubLimiter bounds within-sample sub-jobs (e.g. per-database
	// classification). Nil means a sample's sub-jobs run sequentially.
	SubLimiter *Limiter

	Runner    *Runner
	Validator *Validator
}

// Run executes jobs and ingests every outcome into agg. It returns when all
// jobs have reported; the caller finalizes the aggregator with Wait.
//
// Jobs sharing a sample key form one group occupying one sample-level slot;
// a failing job never disturbs its siblings, in or out of its group.
func (e *Engine) Run(ctx context.Context, jobs []JobDescriptor, agg *Aggregator) {
	groups := groupByKey(jobs)

	var wg sync.WaitGroup
	for _, group := range groups {
		if err := e.Limiter.Acquire(ctx); err != nil {
			// Cancelled while waiting for a slot: report the whole group as
			// failed so the aggregate still accounts for every job.
			for _, job := range group {
				agg.Ingest(cancelledOutcome(job, err))
			}
			continue
		}
		wg.Add(1)
		go func(group []JobDescriptor) {
			defer wg.Done()
			defer e.Limiter.Release()
			e.runGroup(ctx, group, agg)
		}(group)
	}
	wg.Wait()
}

// runGroup executes one sample's jobs while holding the sample-level slot.
// Holding the outer slot while acquiring inner ones is safe because inner
// slots are never held across an outer acquire.
func (e *Engine) runGroup(ctx context.Context, group []JobDescriptor, agg *Aggregator) {
	if e.SubLimiter == nil || len(group) == 1 {
		for _, job := range group {
			agg.Ingest(e.runOne(ctx, job))
		}
		return
	}

	var wg sync.WaitGroup
	for _, job := range group {
		if err := e.SubLimiter.Acquire(ctx); err != nil {
			agg.Ingest(cancelledOutcome(job, err))
			continue
		}
		wg.Add(1)
		go func(job JobDescriptor) {
			defer wg.Done()
			defer e.SubLimiter.Release()
			agg.Ingest(e.runOne(ctx, job))
		}(job)
	}
	wg.Wait()
}

func (e *Engine) runOne(ctx context.Context, job JobDescriptor) JobOutcome {
	out := e.Runner.Run(ctx, job)
	if e.Validator != nil {
		out = e.Validator.Validate(job, out)
	}
	return out
}

func cancelledOutcome(job JobDescriptor, err error) JobOutcome {
	return JobOutcome{
		Key:      job.Key,
		ID:       job.ID(),
		Index:    job.Index,
		Status:   StatusFailure,
		ExitCode: -1,
		Reason:   "not started: " + err.Error(),
		LogPath:  job.LogPath,
		Outputs:  job.Outputs,
	}
}

// groupByKey partitions jobs into per-sample groups, preserving the
// discovery order of first appearance.
func groupByKey(jobs []JobDescriptor) [][]JobDescriptor {
	index := make(map[sample.Key]int)
	var groups [][]JobDescriptor
	for _, job := range jobs {
		i, ok := index[job.Key]
		if !ok {
			i = len(groups)
			index[job.Key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], job)
	}
	return groups
}
