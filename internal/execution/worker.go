// Package execution runs generation jobs and the recovery sweep on the River
// queue, so a crashed process picks work back up from the database.
package execution

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

type RunGenerationArgs struct {
	JobID uuid.UUID `json:"job_id"`
}

func (RunGenerationArgs) Kind() string { return "run_generation" }

type SweepStaleJobsArgs struct{}

func (SweepStaleJobsArgs) Kind() string { return "sweep_stale_jobs" }

// Orchestrator is the contract the workers drive.
type Orchestrator interface {
	Run(ctx context.Context, jobID uuid.UUID) error
	RecoverStale(ctx context.Context, olderThan time.Duration) error
}

type RunGenerationWorker struct {
	river.WorkerDefaults[RunGenerationArgs]
	orch Orchestrator
}

func NewRunGenerationWorker(orch Orchestrator) *RunGenerationWorker {
	return &RunGenerationWorker{orch: orch}
}

func (w *RunGenerationWorker) Work(ctx context.Context, job *river.Job[RunGenerationArgs]) error {
	return w.orch.Run(ctx, job.Args.JobID)
}

type SweepWorker struct {
	river.WorkerDefaults[SweepStaleJobsArgs]
	orch       Orchestrator
	staleAfter time.Duration
}

func NewSweepWorker(orch Orchestrator, staleAfter time.Duration) *SweepWorker {
	return &SweepWorker{orch: orch, staleAfter: staleAfter}
}

func (w *SweepWorker) Work(ctx context.Context, _ *river.Job[SweepStaleJobsArgs]) error {
	return w.orch.RecoverStale(ctx, w.staleAfter)
}
