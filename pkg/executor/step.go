// Package executor runs plan phases: the step executor handles one tool
// invocation, the phase executor schedules a phase's steps into concurrent
// waves and collects their results.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/codeready-toolchain/seeker/pkg/events"
	"github.com/codeready-toolchain/seeker/pkg/logstore"
	"github.com/codeready-toolchain/seeker/pkg/models"
	"github.com/codeready-toolchain/seeker/pkg/tools"
)

// StepExecutor runs a single step against the tool registry. Tool failures
// become failed StepResults, never errors; the only error path is a log
// append failure.
type StepExecutor struct {
	registry *tools.Registry
}

// NewStepExecutor creates a step executor.
func NewStepExecutor(registry *tools.Registry) *StepExecutor {
	return &StepExecutor{registry: registry}
}

// Execute runs the step. prior carries the step results the step may read:
// earlier waves of its phase plus all earlier phases.
func (e *StepExecutor) Execute(ctx context.Context, plan *models.Plan, step *models.Step, prior []*models.StepResult, emitter *logstore.Emitter) (*models.StepResult, error) {
	step.Status = models.StepRunning
	start := time.Now()

	if strings.Contains(step.ToolName, "synth") && len(prior) > 0 {
		enrichSynthesisConfig(plan, step, prior)
	}
	if len(step.Config) == 0 {
		step.Config = defaultConfig(plan, step.ToolName, prior)
	}

	ref := logstore.Ref{PlanID: plan.ID, PhaseID: step.PhaseID, StepID: step.ID}
	if err := emitter.Emit(ctx, events.StepStarted, ref, map[string]any{
		"tool_name": step.ToolName,
		"config":    step.Config,
	}); err != nil {
		return nil, err
	}

	result := &models.StepResult{
		StepID:   step.ID,
		ToolName: step.ToolName,
		Input:    step.Config,
	}

	output, err := e.registry.Execute(ctx, step)
	result.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		step.Status = models.StepFailed
		result.Status = models.StepFailed
		result.Error = &models.StepError{Message: err.Error()}
		if ctx.Err() != nil {
			result.Error.Kind = "cancelled"
		}
		if emitErr := emitter.Emit(ctx, events.StepFailed, ref, map[string]any{
			"tool_name":   step.ToolName,
			"error":       err.Error(),
			"duration_ms": result.DurationMs,
		}); emitErr != nil {
			return nil, emitErr
		}
		return result, nil
	}

	step.Status = models.StepCompleted
	result.Status = models.StepCompleted
	result.Output = output.Output
	result.TokensUsed = output.TokensUsed

	data := map[string]any{
		"tool_name":   step.ToolName,
		"output":      output.Output,
		"duration_ms": result.DurationMs,
	}
	if output.TokensUsed != nil {
		data["tokens_used"] = output.TokensUsed
	}
	if err := emitter.Emit(ctx, events.StepCompleted, ref, data); err != nil {
		return nil, err
	}
	return result, nil
}

// enrichSynthesisConfig injects query, gathered context and fallback prompts
// into a synthesis step's config.
func enrichSynthesisConfig(plan *models.Plan, step *models.Step, prior []*models.StepResult) {
	if step.Config == nil {
		step.Config = make(map[string]any)
	}
	if _, ok := step.Config["query"].(string); !ok {
		step.Config["query"] = plan.Query
	}
	if _, ok := step.Config["context"].(string); !ok {
		if gathered := buildSynthesisContext(prior); gathered != "" {
			step.Config["context"] = gathered
		}
	}
	if v, _ := step.Config["prompt"].(string); v == "" {
		step.Config["prompt"] = fmt.Sprintf("Synthesize a comprehensive answer to: %s", plan.Query)
	}
	if v, _ := step.Config["systemPrompt"].(string); v == "" {
		step.Config["systemPrompt"] = "You are a research synthesis assistant. Combine the gathered " +
			"context into a clear, well-sourced answer."
	}
}

// buildSynthesisContext concatenates structured search results (pretty
// JSON) and text blocks from prior steps, separated by "---".
func buildSynthesisContext(prior []*models.StepResult) string {
	var blocks []string
	for _, r := range prior {
		if r.Status != models.StepCompleted {
			continue
		}
		if results, ok := r.OutputSearchResults(); ok {
			if pretty, err := json.MarshalIndent(results, "", "  "); err == nil {
				blocks = append(blocks, string(pretty))
			}
			continue
		}
		if text, ok := r.OutputText(); ok && text != "" {
			blocks = append(blocks, text)
		}
	}
	return strings.Join(blocks, "\n---\n")
}

// defaultConfig supplies a tool-keyed config for steps the planner left
// unconfigured.
func defaultConfig(plan *models.Plan, toolName string, prior []*models.StepResult) map[string]any {
	switch toolName {
	case "tavily_search":
		return map[string]any{"query": plan.Query, "max_results": 5}
	case "web_fetch":
		if url := firstURL(prior); url != "" {
			return map[string]any{"url": url}
		}
		return map[string]any{}
	case "synthesize":
		return map[string]any{
			"prompt": fmt.Sprintf("Synthesize a comprehensive answer to: %s", plan.Query),
			"query":  plan.Query,
		}
	default:
		return map[string]any{}
	}
}

// firstURL returns the first URL surfaced by prior search results.
func firstURL(prior []*models.StepResult) string {
	for _, r := range prior {
		if results, ok := r.OutputSearchResults(); ok && len(results) > 0 {
			return results[0].URL
		}
	}
	return ""
}
