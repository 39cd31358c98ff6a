// Package orchestrator owns the research session state machine: it drives
// decomposition, planning, evaluation, phase execution, replanning and
// recovery, and guarantees exactly one terminal event per session.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeready-toolchain/seeker/pkg/config"
	"github.com/codeready-toolchain/seeker/pkg/coverage"
	"github.com/codeready-toolchain/seeker/pkg/decomposer"
	"github.com/codeready-toolchain/seeker/pkg/evaluator"
	"github.com/codeready-toolchain/seeker/pkg/events"
	"github.com/codeready-toolchain/seeker/pkg/executor"
	"github.com/codeready-toolchain/seeker/pkg/llm"
	"github.com/codeready-toolchain/seeker/pkg/logstore"
	"github.com/codeready-toolchain/seeker/pkg/memory"
	"github.com/codeready-toolchain/seeker/pkg/models"
	"github.com/codeready-toolchain/seeker/pkg/planner"
	"github.com/codeready-toolchain/seeker/pkg/reflection"
	"github.com/codeready-toolchain/seeker/pkg/tools"
)

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Client     llm.Client
	Registry   *tools.Registry
	Store      logstore.Store
	Results    logstore.ResultStore
	Memory     *memory.Manager
	Decomposer *decomposer.Decomposer
	Analyzer   *coverage.Analyzer
	Evaluator  *evaluator.Evaluator
	Reflector  *reflection.Reflector
	Config     *config.OrchestratorConfig
	Logger     *slog.Logger
}

// Orchestrator executes research sessions end to end.
type Orchestrator struct {
	client     llm.Client
	registry   *tools.Registry
	store      logstore.Store
	results    logstore.ResultStore
	memory     *memory.Manager
	decomposer *decomposer.Decomposer
	analyzer   *coverage.Analyzer
	evaluator  *evaluator.Evaluator
	reflector  *reflection.Reflector
	cfg        *config.OrchestratorConfig
	logger     *slog.Logger

	steps  *executor.StepExecutor
	phases *executor.PhaseExecutor
}

// New creates an orchestrator.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	steps := executor.NewStepExecutor(deps.Registry)
	return &Orchestrator{
		client:     deps.Client,
		registry:   deps.Registry,
		store:      deps.Store,
		results:    deps.Results,
		memory:     deps.Memory,
		decomposer: deps.Decomposer,
		analyzer:   deps.Analyzer,
		evaluator:  deps.Evaluator,
		reflector:  deps.Reflector,
		cfg:        deps.Config,
		logger:     logger,
		steps:      steps,
		phases:     executor.NewPhaseExecutor(steps),
	}
}

// session is the per-session execution state. The accumulated step results,
// sources and final output grow phase by phase.
type session struct {
	id      string
	query   string
	start   time.Time
	emitter *logstore.Emitter
	wm      *memory.WorkingMemory
	planner *planner.Planner

	results     []*models.StepResult
	sources     []models.Source
	finalOutput string
	timings     []models.PhaseTiming

	retrievalEvaluated bool

	// subQueryRetrievalCycles switches nested sub-query research to the
	// iterative-retrieval path (agentic pipeline).
	subQueryRetrievalCycles int
}

// ExecuteResearch runs one research session: decompose, then the simple or
// decomposed path. Returns the persisted research result.
func (o *Orchestrator) ExecuteResearch(ctx context.Context, query, sessionID string) (*models.ResearchResult, error) {
	return o.runSession(ctx, query, sessionID, func(ctx context.Context, s *session) (*models.ResearchResult, error) {
		decomposition, err := o.decomposer.Decompose(ctx, s.query, s.emitter)
		if err != nil {
			return nil, err
		}
		s.wm.SetScratchPadValue("decomposition", decomposition)

		if !decomposition.IsComplex {
			return o.executeSimple(ctx, s)
		}
		return o.executeDecomposed(ctx, s, decomposition)
	})
}

// runSession wraps a session body with working-memory lifecycle, result
// persistence and the exactly-one-terminal-event guarantee.
func (o *Orchestrator) runSession(ctx context.Context, query, sessionID string, body func(context.Context, *session) (*models.ResearchResult, error)) (*models.ResearchResult, error) {
	if sessionID == "" {
		sessionID = models.NewSessionID()
	}
	emitter := logstore.NewEmitter(o.store, sessionID)
	wm, err := o.memory.Initialize(sessionID, query)
	if err != nil {
		return nil, err
	}
	defer o.memory.Cleanup(sessionID)

	s := &session{
		id:      sessionID,
		query:   query,
		start:   time.Now(),
		emitter: emitter,
		wm:      wm,
		planner: planner.New(o.client, o.registry, o.cfg, emitter, o.logger),
	}

	if err := emitter.Emit(ctx, events.SessionStarted, logstore.Ref{}, map[string]any{
		"query": query,
	}); err != nil {
		return nil, err
	}

	result, err := body(ctx, s)
	if err != nil {
		if emitErr := emitter.Emit(ctx, events.SessionFailed, logstore.Ref{}, map[string]any{
			"error": err.Error(),
		}); emitErr != nil {
			return nil, emitErr
		}
		return nil, err
	}

	// Persistence failure is logged, not fatal: the session still completed.
	if o.results != nil {
		if saveErr := o.results.SaveResult(ctx, result); saveErr != nil {
			o.logger.Error("failed to persist research result", "session_id", sessionID, "error", saveErr)
		}
	}

	if err := emitter.Emit(ctx, events.SessionCompleted, logstore.Ref{PlanID: result.PlanID}, map[string]any{
		"answer_length": len(result.Answer),
		"sources":       len(result.Sources),
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// executeSimple is the single-plan path: heuristic sub-goals, an evaluated
// plan, the phase loop, then best-effort answer evaluation.
func (o *Orchestrator) executeSimple(ctx context.Context, s *session) (*models.ResearchResult, error) {
	s.wm.SetPrimaryGoal(s.query)
	for _, goal := range deriveSubGoals(s.query) {
		s.wm.AddSubGoal(goal)
	}

	plan, err := o.planWithEvaluation(ctx, s)
	if err != nil {
		return nil, err
	}
	if err := s.emitter.Emit(ctx, events.PlanCreated, logstore.Ref{PlanID: plan.ID}, map[string]any{
		"plan": plan,
	}); err != nil {
		return nil, err
	}

	if err := o.runPlan(ctx, s, plan); err != nil {
		return nil, err
	}

	result := o.buildResult(s, plan)
	o.evaluateAnswer(ctx, s, result)
	return result, nil
}

// planWithEvaluation creates the plan and loops evaluation-driven
// regeneration up to MaxPlanAttempts, then proceeds with a warning.
func (o *Orchestrator) planWithEvaluation(ctx context.Context, s *session) (*models.Plan, error) {
	plan, err := s.planner.CreatePlan(ctx, s.query)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= o.cfg.MaxPlanAttempts; attempt++ {
		verdict, err := o.evaluator.EvaluatePlan(ctx, plan, s.emitter)
		if err != nil {
			o.logger.Warn("plan evaluation failed, proceeding with current plan",
				"session_id", s.id, "error", err)
			return plan, nil
		}
		if verdict.Accepted() {
			return plan, nil
		}
		if attempt == o.cfg.MaxPlanAttempts {
			if err := s.emitter.Emit(ctx, events.PlanEvaluationWarning, logstore.Ref{PlanID: plan.ID}, map[string]any{
				"attempts": attempt,
				"reasons":  verdict.Reasons,
			}); err != nil {
				return nil, err
			}
			return plan, nil
		}

		if err := s.emitter.Emit(ctx, events.PlanRegenerationStarted, logstore.Ref{PlanID: plan.ID}, map[string]any{
			"attempt":            attempt,
			"failing_dimensions": verdict.FailingDimensions(),
		}); err != nil {
			return nil, err
		}
		plan, err = s.planner.RegeneratePlanWithFeedback(ctx, s.query, feedbackFromVerdict(verdict))
		if err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func feedbackFromVerdict(verdict *evaluator.PlanVerdict) *planner.Feedback {
	feedback := &planner.Feedback{
		Critique:          strings.Join(verdict.Reasons, "; "),
		FailingDimensions: verdict.FailingDimensions(),
	}
	for _, issue := range verdict.Issues {
		feedback.Issues = append(feedback.Issues, planner.IssueFix{Issue: issue.Issue, Fix: issue.Fix})
	}
	return feedback
}

// runPlan executes the plan's phases in order, accumulating results and
// sources into the session, handling retrieval evaluation, replan
// checkpoints and failure recovery. Indexing by position lets replans
// append phases mid-run.
func (o *Orchestrator) runPlan(ctx context.Context, s *session, plan *models.Plan) error {
	for i := 0; i < len(plan.Phases); i++ {
		phase := plan.Phases[i]
		if phase.Status == models.PhaseSkipped {
			continue
		}
		s.wm.UpdatePhase(phase.Name, phase.Order)

		phaseStart := time.Now()
		result, err := o.phases.Execute(ctx, plan, phase, s.results, s.emitter)
		if err != nil {
			return err
		}

		if result.Status == models.PhaseFailed {
			if err := o.recoverPhase(ctx, s, plan, phase, result); err != nil {
				return err
			}
		}

		s.results = append(s.results, result.StepResults...)
		s.planner.SetPhaseResults(phase.ID, result.StepResults)
		s.timings = append(s.timings, models.PhaseTiming{
			Name:       phase.Name,
			DurationMs: time.Since(phaseStart).Milliseconds(),
		})

		phaseSources, output := ExtractResults(result, o.cfg.MinOutputLength)
		s.sources = DedupeSources(append(s.sources, phaseSources...))
		if output != "" {
			s.finalOutput = output
			s.wm.AddGatheredInfo(output)
		}

		o.maybeEvaluateRetrieval(ctx, s, plan, phase, result)

		if phase.ReplanCheckpoint && phase.Status == models.PhaseCompleted {
			if err := o.replanCheckpoint(ctx, s, plan, phase, result); err != nil {
				return err
			}
		}
	}
	return nil
}

// maybeEvaluateRetrieval fires retrieval evaluation at most once per
// session, on the first retrieval-looking phase with array output.
func (o *Orchestrator) maybeEvaluateRetrieval(ctx context.Context, s *session, plan *models.Plan, phase *models.Phase, result *models.PhaseResult) {
	if s.retrievalEvaluated || !isRetrievalPhase(phase.Name) {
		return
	}
	hits := collectSearchResults(result)
	if len(hits) == 0 {
		return
	}
	s.retrievalEvaluated = true

	verdict, err := o.evaluator.EvaluateRetrieval(ctx, plan.Query, hits, s.emitter)
	if err != nil {
		o.logger.Warn("retrieval evaluation failed, proceeding", "session_id", s.id, "error", err)
		return
	}
	if verdict.FlaggedSevere {
		o.logger.Warn("retrieval results flagged severe", "session_id", s.id, "phase", phase.Name)
		s.wm.AddGap(fmt.Sprintf("retrieval for phase %q flagged as insufficient", phase.Name))
	}
}

// replanCheckpoint consults the planner after a checkpoint phase; steps the
// replan added to the completed phase run immediately.
func (o *Orchestrator) replanCheckpoint(ctx context.Context, s *session, plan *models.Plan, phase *models.Phase, result *models.PhaseResult) error {
	modified, err := s.planner.Replan(ctx, phase, result, "")
	if err != nil {
		return err
	}
	if !modified || len(phase.PendingSteps()) == 0 {
		return nil
	}

	pendingResult, err := o.phases.ExecutePending(ctx, plan, phase, s.results, s.emitter)
	if err != nil {
		return err
	}
	s.results = append(s.results, pendingResult.StepResults...)
	result.StepResults = append(result.StepResults, pendingResult.StepResults...)
	s.planner.SetPhaseResults(phase.ID, result.StepResults)

	phaseSources, output := ExtractResults(pendingResult, o.cfg.MinOutputLength)
	s.sources = DedupeSources(append(s.sources, phaseSources...))
	if output != "" {
		s.finalOutput = output
	}
	return nil
}

// recoverPhase routes a failed phase through the planner's recovery
// decision. On retry/alternative/skip the phase's remaining pending steps
// run afterwards; abort surfaces as an error to fail the session.
func (o *Orchestrator) recoverPhase(ctx context.Context, s *session, plan *models.Plan, phase *models.Phase, result *models.PhaseResult) error {
	failed := result.FirstFailed()
	if failed == nil {
		return fmt.Errorf("phase %s failed without a failed step: %s", phase.Name, result.Error)
	}
	_, step := plan.FindStep(failed.StepID)
	if step == nil {
		return fmt.Errorf("failed step %s not found in plan", failed.StepID)
	}

	decision, err := s.planner.DecideRecovery(ctx, &planner.FailureContext{
		Plan:   plan,
		Phase:  phase,
		Step:   step,
		Result: failed,
	})
	if err != nil {
		return err
	}
	o.logger.Info("recovery decision", "session_id", s.id, "step_id", step.ID,
		"action", decision.Action, "reason", decision.Reason)

	switch decision.Action {
	case planner.RecoveryAbort:
		return fmt.Errorf("research aborted: %s", decision.Reason)

	case planner.RecoveryRetry:
		if decision.Modifications != nil && len(decision.Modifications.RetryWithConfig) > 0 {
			step.Config = decision.Modifications.RetryWithConfig
		}
		step.Status = models.StepPending
		retried, err := o.steps.Execute(ctx, plan, step, s.results, s.emitter)
		if err != nil {
			return err
		}
		if retried.Status == models.StepFailed {
			return fmt.Errorf("research aborted: retry of step %s failed: %s", step.ID, retried.Error.Message)
		}
		replaceStepResult(result, retried)

	case planner.RecoverySkip:
		step.Status = models.StepSkipped

	case planner.RecoveryAlternative:
		if decision.Modifications == nil || len(decision.Modifications.AlternativeSteps) == 0 {
			return fmt.Errorf("research aborted: recovery proposed no alternative steps")
		}
		phase.Steps = append(phase.Steps, decision.Modifications.AlternativeSteps...)

	default:
		return fmt.Errorf("research aborted: unknown recovery action %q", decision.Action)
	}

	// Finish whatever the short-circuit left pending, including alternatives.
	pendingResult, err := o.phases.ExecutePending(ctx, plan, phase, s.results, s.emitter)
	if err != nil {
		return err
	}
	if pendingResult.Status == models.PhaseFailed {
		return fmt.Errorf("research aborted: phase %s failed again after recovery: %s", phase.Name, pendingResult.Error)
	}
	result.StepResults = append(result.StepResults, pendingResult.StepResults...)
	result.Status = models.PhaseCompleted
	result.Error = ""
	phase.Status = models.PhaseCompleted
	return nil
}

func replaceStepResult(result *models.PhaseResult, replacement *models.StepResult) {
	for i, r := range result.StepResults {
		if r.StepID == replacement.StepID {
			result.StepResults[i] = replacement
			return
		}
	}
	result.StepResults = append(result.StepResults, replacement)
}

func (o *Orchestrator) buildResult(s *session, plan *models.Plan) *models.ResearchResult {
	return &models.ResearchResult{
		SessionID: s.id,
		PlanID:    plan.ID,
		Query:     s.query,
		Answer:    s.finalOutput,
		Sources:   s.sources,
		Metadata: &models.ResultMetadata{
			TotalExecutionTimeMs: time.Since(s.start).Milliseconds(),
			Phases:               s.timings,
		},
	}
}

// evaluateAnswer runs best-effort answer evaluation; errors are swallowed
// and the verdict only feeds the result confidence.
func (o *Orchestrator) evaluateAnswer(ctx context.Context, s *session, result *models.ResearchResult) {
	verdict, err := o.evaluator.EvaluateAnswer(ctx, s.query, result.Answer, result.Sources, s.emitter)
	if err != nil {
		o.logger.Warn("answer evaluation failed, proceeding", "session_id", s.id, "error", err)
		return
	}
	result.Confidence = verdict.Confidence
}
