package pipeline

import (
	"log/slog"
	"time"
)

// StageProgressFunc reports progress for one running stage: its name and
// 1-based position among totalStages, plus that stage's own current/total
// work-item counters.
type StageProgressFunc func(stageName string, stageIndex, totalStages, current, total int)

// Orchestrator runs a fixed, ordered list of [Stage]s against one [Context].
// It never reorders, reruns, or parallelizes stages — the process-global GPU
// contention the stages share precludes running more than one at a time.
type Orchestrator struct {
	stages []Stage
	logger *slog.Logger
}

// New returns an Orchestrator that runs stages in the given order.
func New(logger *slog.Logger, stages ...Stage) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{stages: stages, logger: logger}
}

// Run executes every registered stage whose ShouldRun predicate is true,
// against ctx, in order. It returns the first stage error encountered,
// wrapped with the stage name that produced it; ctx retains whatever partial
// work earlier stages completed.
func (o *Orchestrator) Run(ctx *Context, onProgress StageProgressFunc) error {
	total := len(o.stages)
	for i, stage := range o.stages {
		name := stage.Name()
		if !stage.ShouldRun(ctx) {
			o.logger.Debug("skipping stage", "task_id", ctx.TaskID, "stage", name)
			continue
		}

		o.logger.Info("running stage", "task_id", ctx.TaskID, "stage", name)
		started := time.Now()

		stageIndex := i + 1
		err := stage.Execute(ctx, func(current, stageTotal int) {
			if onProgress != nil {
				onProgress(name, stageIndex, total, current, stageTotal)
			}
		})

		took := time.Since(started)
		ctx.Elapsed = append(ctx.Elapsed, StageElapsed{Stage: name, Took: took})

		if err != nil {
			o.logger.Error("stage failed", "task_id", ctx.TaskID, "stage", name, "err", err, "took", took)
			return &StageError{Stage: name, Err: err}
		}
		o.logger.Info("stage completed", "task_id", ctx.TaskID, "stage", name, "took", took)
	}
	return nil
}

// StageError wraps a stage's name around the error it returned.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }
