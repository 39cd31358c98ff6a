package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/seeker/pkg/events"
	"github.com/codeready-toolchain/seeker/pkg/llm"
	"github.com/codeready-toolchain/seeker/pkg/logstore"
	"github.com/codeready-toolchain/seeker/pkg/models"
)

// applyToolCall dispatches one planning tool-call to its handler and returns
// the structured result reported back to the LLM. Invariant violations become
// error results in the payload; the only Go error path is a log append
// failure.
func (p *Planner) applyToolCall(ctx context.Context, call llm.ToolCall) (map[string]any, error) {
	name := call.Function.Name
	args := call.Function.Arguments
	if args == nil {
		args = map[string]any{}
	}

	if p.plan == nil && name != toolCreatePlan {
		return map[string]any{
			"error":          "no plan exists yet",
			"requiredAction": toolCreatePlan,
		}, nil
	}

	switch name {
	case toolCreatePlan:
		return p.handleCreatePlan(args)
	case toolAddPhase:
		return p.handleAddPhase(ctx, args)
	case toolAddStep:
		return p.handleAddStep(ctx, args)
	case toolModifyStep:
		return p.handleModifyStep(ctx, args)
	case toolRemoveStep:
		return p.handleRemoveStep(ctx, args)
	case toolSkipPhase:
		return p.handleSkipPhase(args)
	case toolInsertPhaseAfter:
		return p.handleInsertPhaseAfter(ctx, args)
	case toolGetPlanStatus:
		return p.handleGetPlanStatus(), nil
	case toolGetPhaseResults:
		return p.handleGetPhaseResults(args), nil
	case toolFinalizePlan:
		return p.handleFinalizePlan(ctx)
	default:
		return map[string]any{"error": fmt.Sprintf("unknown planning tool %q", name)}, nil
	}
}

func (p *Planner) handleCreatePlan(args map[string]any) (map[string]any, error) {
	if p.createCalls >= p.cfg.CreatePlanMaxAttempts {
		return map[string]any{
			"error": fmt.Sprintf("create_plan called more than %d times; keep refining the existing plan instead", p.cfg.CreatePlanMaxAttempts),
		}, nil
	}
	p.createCalls++

	query := stringArg(args, "query")
	if query == "" {
		query = p.query
	}
	p.plan = models.NewPlan(query)
	p.finalizeMiss = 0
	return map[string]any{"planId": p.plan.ID, "status": "created"}, nil
}

func (p *Planner) handleAddPhase(ctx context.Context, args map[string]any) (map[string]any, error) {
	name := stringArg(args, "name")
	if name == "" {
		return map[string]any{"error": "phase name is required"}, nil
	}
	phase := &models.Phase{
		ID:               models.NewPhaseID(),
		PlanID:           p.plan.ID,
		Name:             name,
		Description:      stringArg(args, "description"),
		Status:           models.PhasePending,
		ReplanCheckpoint: boolArg(args, "replanCheckpoint"),
		Order:            len(p.plan.Phases),
	}
	p.plan.Phases = append(p.plan.Phases, phase)

	if err := p.emitter.Emit(ctx, events.PhaseAdded, logstore.Ref{PlanID: p.plan.ID, PhaseID: phase.ID}, map[string]any{
		"name":  phase.Name,
		"order": phase.Order,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"phaseId": phase.ID, "order": phase.Order}, nil
}

func (p *Planner) handleAddStep(ctx context.Context, args map[string]any) (map[string]any, error) {
	phase := p.plan.FindPhase(stringArg(args, "phaseId"))
	if phase == nil {
		return map[string]any{"error": fmt.Sprintf("unknown phase id %q", stringArg(args, "phaseId"))}, nil
	}
	toolName := stringArg(args, "toolName")
	if toolName == "" {
		return map[string]any{"error": "toolName is required"}, nil
	}
	if !p.registry.Has(toolName) {
		return map[string]any{
			"error":          fmt.Sprintf("unknown tool %q", toolName),
			"availableTools": p.registry.Names(),
		}, nil
	}
	cfg := mapArg(args, "config")
	if len(cfg) == 0 {
		return map[string]any{"error": "config must not be empty"}, nil
	}
	if err := p.registry.ValidateConfig(toolName, cfg); err != nil {
		return map[string]any{"error": err.Error()}, nil
	}

	deps := stringSliceArg(args, "dependsOn")
	for _, dep := range deps {
		if owner, _ := p.plan.FindStep(dep); owner == nil || owner.ID != phase.ID {
			return map[string]any{"error": fmt.Sprintf("dependency %q is not a step in phase %q", dep, phase.ID)}, nil
		}
	}

	step := &models.Step{
		ID:           models.NewStepID(),
		PhaseID:      phase.ID,
		Type:         parseStepType(stringArg(args, "type")),
		ToolName:     toolName,
		Config:       cfg,
		Dependencies: deps,
		Status:       models.StepPending,
		Order:        len(phase.Steps),
	}
	phase.Steps = append(phase.Steps, step)

	if err := p.emitter.Emit(ctx, events.StepAdded, logstore.Ref{PlanID: p.plan.ID, PhaseID: phase.ID, StepID: step.ID}, map[string]any{
		"tool_name": step.ToolName,
		"config":    step.Config,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"stepId": step.ID}, nil
}

func (p *Planner) handleModifyStep(ctx context.Context, args map[string]any) (map[string]any, error) {
	stepID := stringArg(args, "stepId")
	phase, step := p.plan.FindStep(stepID)
	if step == nil {
		return map[string]any{"error": fmt.Sprintf("unknown step id %q", stepID)}, nil
	}
	changes := mapArg(args, "changes")
	if len(changes) == 0 {
		return map[string]any{"error": "changes must not be empty"}, nil
	}

	if v, ok := changes["toolName"].(string); ok {
		if !p.registry.Has(v) {
			return map[string]any{"error": fmt.Sprintf("unknown tool %q", v)}, nil
		}
		step.ToolName = v
	}
	if v, ok := changes["type"].(string); ok {
		step.Type = parseStepType(v)
	}
	if v, ok := changes["config"].(map[string]any); ok {
		step.Config = v
	}
	if _, ok := changes["dependsOn"]; ok {
		step.Dependencies = stringSliceArg(changes, "dependsOn")
	}

	if err := p.emitter.Emit(ctx, events.StepModified, logstore.Ref{PlanID: p.plan.ID, PhaseID: phase.ID, StepID: step.ID}, map[string]any{
		"changes": changes,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"stepId": step.ID, "status": "modified"}, nil
}

func (p *Planner) handleRemoveStep(ctx context.Context, args map[string]any) (map[string]any, error) {
	stepID := stringArg(args, "stepId")
	phase, step := p.plan.FindStep(stepID)
	if step == nil {
		return map[string]any{"error": fmt.Sprintf("unknown step id %q", stepID)}, nil
	}
	kept := phase.Steps[:0]
	for _, s := range phase.Steps {
		if s.ID != stepID {
			kept = append(kept, s)
		}
	}
	phase.Steps = kept

	if err := p.emitter.Emit(ctx, events.StepRemoved, logstore.Ref{PlanID: p.plan.ID, PhaseID: phase.ID, StepID: stepID}, map[string]any{
		"reason": stringArg(args, "reason"),
	}); err != nil {
		return nil, err
	}
	return map[string]any{"stepId": stepID, "status": "removed"}, nil
}

func (p *Planner) handleSkipPhase(args map[string]any) (map[string]any, error) {
	phase := p.plan.FindPhase(stringArg(args, "phaseId"))
	if phase == nil {
		return map[string]any{"error": fmt.Sprintf("unknown phase id %q", stringArg(args, "phaseId"))}, nil
	}
	phase.Status = models.PhaseSkipped
	return map[string]any{"phaseId": phase.ID, "status": "skipped"}, nil
}

func (p *Planner) handleInsertPhaseAfter(ctx context.Context, args map[string]any) (map[string]any, error) {
	afterID := stringArg(args, "afterPhaseId")
	afterIdx := -1
	for i, ph := range p.plan.Phases {
		if ph.ID == afterID {
			afterIdx = i
			break
		}
	}
	if afterIdx < 0 {
		return map[string]any{"error": fmt.Sprintf("unknown phase id %q", afterID)}, nil
	}
	name := stringArg(args, "name")
	if name == "" {
		return map[string]any{"error": "phase name is required"}, nil
	}

	phase := &models.Phase{
		ID:               models.NewPhaseID(),
		PlanID:           p.plan.ID,
		Name:             name,
		Description:      stringArg(args, "description"),
		Status:           models.PhasePending,
		ReplanCheckpoint: boolArg(args, "replanCheckpoint"),
	}
	phases := append([]*models.Phase{}, p.plan.Phases[:afterIdx+1]...)
	phases = append(phases, phase)
	phases = append(phases, p.plan.Phases[afterIdx+1:]...)
	for i, ph := range phases {
		ph.Order = i
	}
	p.plan.Phases = phases

	if err := p.emitter.Emit(ctx, events.PhaseAdded, logstore.Ref{PlanID: p.plan.ID, PhaseID: phase.ID}, map[string]any{
		"name":     phase.Name,
		"order":    phase.Order,
		"inserted": true,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"phaseId": phase.ID, "order": phase.Order}, nil
}

func (p *Planner) handleGetPlanStatus() map[string]any {
	phases := make([]map[string]any, len(p.plan.Phases))
	for i, ph := range p.plan.Phases {
		steps := make([]map[string]any, len(ph.Steps))
		for j, s := range ph.Steps {
			steps[j] = map[string]any{
				"stepId":   s.ID,
				"toolName": s.ToolName,
				"status":   s.Status,
			}
		}
		phases[i] = map[string]any{
			"phaseId": ph.ID,
			"name":    ph.Name,
			"status":  ph.Status,
			"order":   ph.Order,
			"steps":   steps,
		}
	}
	return map[string]any{
		"planId": p.plan.ID,
		"query":  p.plan.Query,
		"status": p.plan.Status,
		"phases": phases,
	}
}

func (p *Planner) handleGetPhaseResults(args map[string]any) map[string]any {
	phaseID := stringArg(args, "phaseId")
	p.mu.Lock()
	results := p.phaseResults[phaseID]
	p.mu.Unlock()

	summaries := make([]map[string]any, len(results))
	for i, r := range results {
		summaries[i] = map[string]any{
			"stepId":    r.StepID,
			"status":    r.Status,
			"hasOutput": r.Output != nil,
		}
	}
	return map[string]any{"phaseId": phaseID, "results": summaries}
}

func (p *Planner) handleFinalizePlan(ctx context.Context) (map[string]any, error) {
	var empty []*models.Phase
	for _, ph := range p.plan.Phases {
		if ph.Status != models.PhaseSkipped && len(ph.Steps) == 0 {
			empty = append(empty, ph)
		}
	}
	if len(p.plan.Phases) == 0 {
		return map[string]any{"error": "plan has no phases; add at least one with add_phase"}, nil
	}
	if len(empty) == 0 {
		p.finalizeMiss = 0
		return map[string]any{"status": "finalized", "phases": len(p.plan.Phases)}, nil
	}

	p.finalizeMiss++
	if p.finalizeMiss < p.cfg.FinalizeAutoRecoveryThreshold {
		ids := make([]string, len(empty))
		for i, ph := range empty {
			ids[i] = ph.ID
		}
		return map[string]any{
			"error":         "every phase must contain at least one step",
			"emptyPhaseIds": ids,
			"remediation":   "use add_step to populate each listed phase, then call finalize_plan again",
		}, nil
	}

	// Second consecutive miss: populate empty phases with defaults instead of
	// looping the model forever.
	ids := make([]string, len(empty))
	for i, ph := range empty {
		ids[i] = ph.ID
	}
	if err := p.emitter.Emit(ctx, events.AutoRecovery, logstore.Ref{PlanID: p.plan.ID}, map[string]any{
		"reason":          "finalize_plan failed twice with empty phases",
		"empty_phase_ids": ids,
	}); err != nil {
		return nil, err
	}
	for _, ph := range empty {
		step := p.defaultStepForPhase(ph)
		ph.Steps = append(ph.Steps, step)
		if err := p.emitter.Emit(ctx, events.StepAutoAdded, logstore.Ref{PlanID: p.plan.ID, PhaseID: ph.ID, StepID: step.ID}, map[string]any{
			"tool_name": step.ToolName,
			"config":    step.Config,
		}); err != nil {
			return nil, err
		}
	}
	p.finalizeMiss = 0
	return map[string]any{"status": "finalized", "autoRecovered": true, "phases": len(p.plan.Phases)}, nil
}

// defaultStepForPhase synthesizes a step for an empty phase, keyed off the
// phase name.
func (p *Planner) defaultStepForPhase(phase *models.Phase) *models.Step {
	name := strings.ToLower(phase.Name)
	queryText := phase.Description
	if queryText == "" {
		queryText = phase.Name
	}

	step := &models.Step{
		ID:      models.NewStepID(),
		PhaseID: phase.ID,
		Type:    models.StepToolCall,
		Status:  models.StepPending,
	}
	switch {
	case strings.Contains(name, "search"):
		step.ToolName = "tavily_search"
		step.Config = map[string]any{"query": queryText}
	case strings.Contains(name, "fetch"):
		step.ToolName = "web_fetch"
	case strings.Contains(name, "synth"):
		step.ToolName = "synthesize"
		step.Config = map[string]any{
			"prompt": fmt.Sprintf("Synthesize a comprehensive answer to: %s", p.plan.Query),
		}
	default:
		step.ToolName = "tavily_search"
		step.Config = map[string]any{"query": queryText}
	}
	return step
}

// Terms that mark a phase or step as synthesis for the purposes of the
// synthesis guarantee.
var synthesisPhaseTerms = []string{"synth", "answer", "final", "summary", "conclusion"}

// ensureSynthesisPhase appends a synthesis phase when the plan ends without
// one. Runs unconditionally after every successful planning loop.
func (p *Planner) ensureSynthesisPhase(ctx context.Context) error {
	if p.hasSynthesis() {
		return nil
	}
	phase := &models.Phase{
		ID:     models.NewPhaseID(),
		PlanID: p.plan.ID,
		Name:   "Synthesis & Answer Generation",
		Status: models.PhasePending,
		Order:  len(p.plan.Phases),
	}
	phase.Steps = []*models.Step{{
		ID:       models.NewStepID(),
		PhaseID:  phase.ID,
		Type:     models.StepToolCall,
		ToolName: "synthesize",
		Config: map[string]any{
			"prompt": fmt.Sprintf("Synthesize a comprehensive answer to: %s", p.plan.Query),
		},
		Status: models.StepPending,
	}}
	p.plan.Phases = append(p.plan.Phases, phase)

	return p.emitter.Emit(ctx, events.SynthesisPhaseAutoAdded, logstore.Ref{PlanID: p.plan.ID, PhaseID: phase.ID}, map[string]any{
		"name": phase.Name,
	})
}

func (p *Planner) hasSynthesis() bool {
	for _, ph := range p.plan.Phases {
		name := strings.ToLower(ph.Name)
		for _, term := range synthesisPhaseTerms {
			if strings.Contains(name, term) {
				return true
			}
		}
		for _, s := range ph.Steps {
			tool := strings.ToLower(s.ToolName)
			if strings.Contains(tool, "synth") || tool == "llm" || tool == "text_synthesis" {
				return true
			}
		}
	}
	return false
}

func parseStepType(s string) models.StepType {
	switch models.StepType(s) {
	case models.StepLLMCall, models.StepSearch, models.StepFetch, models.StepLLM:
		return models.StepType(s)
	default:
		return models.StepToolCall
	}
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func mapArg(args map[string]any, key string) map[string]any {
	v, _ := args[key].(map[string]any)
	return v
}

func stringSliceArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
