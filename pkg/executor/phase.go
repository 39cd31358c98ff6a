package executor

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/seeker/pkg/events"
	"github.com/codeready-toolchain/seeker/pkg/logstore"
	"github.com/codeready-toolchain/seeker/pkg/models"
	"github.com/codeready-toolchain/seeker/pkg/scheduler"
)

// PhaseExecutor runs one phase's steps in dependency-ordered waves. Steps
// inside a wave run concurrently; the phase short-circuits after the first
// wave containing a failure.
type PhaseExecutor struct {
	steps *StepExecutor
}

// NewPhaseExecutor creates a phase executor.
func NewPhaseExecutor(steps *StepExecutor) *PhaseExecutor {
	return &PhaseExecutor{steps: steps}
}

// Execute runs the phase. sessionResults carries all step results from
// earlier phases; each step additionally observes the results of earlier
// waves within this phase. Step results are collected in step insertion
// order per wave.
func (e *PhaseExecutor) Execute(ctx context.Context, plan *models.Plan, phase *models.Phase, sessionResults []*models.StepResult, emitter *logstore.Emitter) (*models.PhaseResult, error) {
	phase.Status = models.PhaseRunning
	ref := logstore.Ref{PlanID: plan.ID, PhaseID: phase.ID}
	if err := emitter.Emit(ctx, events.PhaseStarted, ref, map[string]any{
		"name":  phase.Name,
		"order": phase.Order,
		"steps": len(phase.Steps),
	}); err != nil {
		return nil, err
	}

	waves := scheduler.BuildExecutionQueue(phase.Steps)
	result := &models.PhaseResult{Status: models.PhaseRunning}

	for _, wave := range waves {
		prior := make([]*models.StepResult, 0, len(sessionResults)+len(result.StepResults))
		prior = append(prior, sessionResults...)
		prior = append(prior, result.StepResults...)

		waveResults := make([]*models.StepResult, len(wave))
		g, waveCtx := errgroup.WithContext(ctx)
		for i, step := range wave {
			g.Go(func() error {
				stepResult, err := e.steps.Execute(waveCtx, plan, step, prior, emitter)
				if err != nil {
					return err
				}
				waveResults[i] = stepResult
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		result.StepResults = append(result.StepResults, waveResults...)

		if failed := result.FirstFailed(); failed != nil {
			phase.Status = models.PhaseFailed
			result.Status = models.PhaseFailed
			result.Error = failed.Error.Message
			if err := emitter.Emit(ctx, events.PhaseFailed, ref, map[string]any{
				"name":           phase.Name,
				"failed_step_id": failed.StepID,
				"error":          failed.Error.Message,
			}); err != nil {
				return nil, err
			}
			return result, nil
		}
	}

	phase.Status = models.PhaseCompleted
	result.Status = models.PhaseCompleted
	if err := emitter.Emit(ctx, events.PhaseCompleted, ref, map[string]any{
		"name":  phase.Name,
		"steps": len(result.StepResults),
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// ExecutePending re-runs only the phase's pending steps. Used after a replan
// adds steps to an already-completed phase.
func (e *PhaseExecutor) ExecutePending(ctx context.Context, plan *models.Plan, phase *models.Phase, sessionResults []*models.StepResult, emitter *logstore.Emitter) (*models.PhaseResult, error) {
	pending := phase.PendingSteps()
	if len(pending) == 0 {
		return &models.PhaseResult{Status: models.PhaseCompleted}, nil
	}
	scratch := &models.Phase{
		ID:     phase.ID,
		PlanID: phase.PlanID,
		Name:   fmt.Sprintf("%s (replan additions)", phase.Name),
		Status: models.PhasePending,
		Steps:  pending,
		Order:  phase.Order,
	}
	result, err := e.Execute(ctx, plan, scratch, sessionResults, emitter)
	if err != nil {
		return nil, err
	}
	phase.Status = scratch.Status
	return result, nil
}
