// Package planner drives the LLM planning loop: it offers a closed catalog
// of plan-mutation tools to the model, enforces the plan invariants on every
// call, and owns the plan until it hands a finalized one to the orchestrator.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/seeker/pkg/config"
	"github.com/codeready-toolchain/seeker/pkg/events"
	"github.com/codeready-toolchain/seeker/pkg/llm"
	"github.com/codeready-toolchain/seeker/pkg/logstore"
	"github.com/codeready-toolchain/seeker/pkg/models"
	"github.com/codeready-toolchain/seeker/pkg/tools"
)

// Feedback is the structured critique passed back into plan regeneration
// after a failed plan evaluation.
type Feedback struct {
	Critique          string     `json:"critique"`
	FailingDimensions []string   `json:"failing_dimensions,omitempty"`
	Issues            []IssueFix `json:"issues,omitempty"`
}

// IssueFix pairs a concrete plan defect with its suggested fix.
type IssueFix struct {
	Issue string `json:"issue"`
	Fix   string `json:"fix"`
}

// Planner holds the planning state for one session. Callers serialize access
// per session; the internal mutex only guards the phase-result side channel
// against concurrent step completion.
type Planner struct {
	client   llm.Client
	registry *tools.Registry
	cfg      *config.OrchestratorConfig
	emitter  *logstore.Emitter
	logger   *slog.Logger

	mu           sync.Mutex
	plan         *models.Plan
	query        string
	createCalls  int
	finalizeMiss int
	phaseResults map[string][]*models.StepResult
}

// New creates a planner bound to one session's emitter.
func New(client llm.Client, registry *tools.Registry, cfg *config.OrchestratorConfig, emitter *logstore.Emitter, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		client:       client,
		registry:     registry,
		cfg:          cfg,
		emitter:      emitter,
		logger:       logger,
		phaseResults: make(map[string][]*models.StepResult),
	}
}

// Plan returns the current plan, which may be nil before createPlan succeeds.
func (p *Planner) Plan() *models.Plan {
	return p.plan
}

// SetPhaseResults records an executed phase's step results so later replan
// turns can consult them through get_phase_results.
func (p *Planner) SetPhaseResults(phaseID string, results []*models.StepResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phaseResults[phaseID] = results
}

// CreatePlan runs the planning loop for the query and returns a finalized
// plan carrying the synthesis guarantee.
func (p *Planner) CreatePlan(ctx context.Context, query string) (*models.Plan, error) {
	return p.buildPlan(ctx, query, nil)
}

// RegeneratePlanWithFeedback re-plans from scratch with an evaluator critique
// appended to the planning prompt.
func (p *Planner) RegeneratePlanWithFeedback(ctx context.Context, query string, feedback *Feedback) (*models.Plan, error) {
	p.plan = nil
	p.finalizeMiss = 0
	return p.buildPlan(ctx, query, feedback)
}

func (p *Planner) buildPlan(ctx context.Context, query string, feedback *Feedback) (*models.Plan, error) {
	p.query = query
	toolNames := p.registry.Names()
	if err := p.emitter.Emit(ctx, events.PlanningStarted, logstore.Ref{}, map[string]any{
		"query":           query,
		"available_tools": toolNames,
	}); err != nil {
		return nil, err
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: planningSystemPrompt},
		{Role: llm.RoleUser, Content: buildPlanningPrompt(query, toolNames, feedback)},
	}
	if err := p.runPlanningLoop(ctx, messages); err != nil {
		return nil, err
	}
	if p.plan == nil {
		return nil, fmt.Errorf("Planning failed: no plan created")
	}
	if err := p.ensureSynthesisPhase(ctx); err != nil {
		return nil, err
	}
	p.plan.Status = models.PlanExecuting
	return p.plan, nil
}

func (p *Planner) runPlanningLoop(ctx context.Context, messages []llm.Message) error {
	catalog := planningTools()
	for iteration := 1; iteration <= p.cfg.PlannerMaxIterations; iteration++ {
		ref := logstore.Ref{}
		if p.plan != nil {
			ref.PlanID = p.plan.ID
		}
		if err := p.emitter.Emit(ctx, events.PlanningIteration, ref, map[string]any{
			"iteration": iteration,
		}); err != nil {
			return err
		}

		resp, err := p.client.Chat(ctx, &llm.Request{Messages: messages, Tools: catalog})
		if err != nil {
			return fmt.Errorf("planning turn %d failed: %w", iteration, err)
		}

		if len(resp.Message.ToolCalls) == 0 {
			if resp.Message.Content != "" {
				messages = append(messages, resp.Message)
			}
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: planningNudge})
			continue
		}

		messages = append(messages, resp.Message)
		finalized := false
		for _, call := range resp.Message.ToolCalls {
			result, err := p.applyToolCall(ctx, call)
			if err != nil {
				return err
			}
			payload, _ := json.Marshal(result)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    string(payload),
				ToolCallID: call.ID,
				ToolName:   call.Function.Name,
			})
			if call.Function.Name == toolFinalizePlan && result["error"] == nil {
				finalized = true
			}
		}
		if finalized {
			return nil
		}
	}
	p.logger.Warn("planning loop hit iteration limit", "max_iterations", p.cfg.PlannerMaxIterations)
	return nil
}

// Replan lets the LLM edit the plan mid-execution: after a checkpoint phase
// completes or after a failure. Runs a single turn against the planning
// catalog and reports whether any plan-mutating tool was invoked.
func (p *Planner) Replan(ctx context.Context, completedPhase *models.Phase, phaseResult *models.PhaseResult, failureInfo string) (bool, error) {
	ref := logstore.Ref{PlanID: p.plan.ID, PhaseID: completedPhase.ID}
	data := map[string]any{"phase_name": completedPhase.Name}
	if failureInfo != "" {
		data["failure"] = failureInfo
	}
	if err := p.emitter.Emit(ctx, events.ReplanTriggered, ref, data); err != nil {
		return false, err
	}

	p.plan.Status = models.PlanReplanning
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: planningSystemPrompt},
		{Role: llm.RoleUser, Content: buildReplanPrompt(p.plan, completedPhase, phaseResult, failureInfo)},
	}
	resp, err := p.client.Chat(ctx, &llm.Request{Messages: messages, Tools: planningTools()})
	if err != nil {
		return false, fmt.Errorf("replan turn failed: %w", err)
	}

	modified := false
	for _, call := range resp.Message.ToolCalls {
		if _, err := p.applyToolCall(ctx, call); err != nil {
			return false, err
		}
		if mutatingTools[call.Function.Name] {
			modified = true
		}
	}
	p.plan.Status = models.PlanExecuting

	if err := p.emitter.Emit(ctx, events.ReplanCompleted, ref, map[string]any{
		"phase_name": completedPhase.Name,
		"modified":   modified,
	}); err != nil {
		return false, err
	}
	return modified, nil
}

var mutatingTools = map[string]bool{
	toolCreatePlan:       true,
	toolAddPhase:         true,
	toolAddStep:          true,
	toolModifyStep:       true,
	toolRemoveStep:       true,
	toolSkipPhase:        true,
	toolInsertPhaseAfter: true,
}
