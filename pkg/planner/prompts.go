package planner

import (
	"fmt"
	"strings"

	"github.com/codeready-toolchain/seeker/pkg/models"
)

const planningSystemPrompt = `You are a research planning assistant. You build executable research plans
exclusively through the provided tools. Start with create_plan, add phases
with add_phase, populate every phase with at least one step via add_step, and
call finalize_plan when the plan is complete. Phases run in order; steps
within a phase may declare dependencies on sibling steps. Prefer a small
number of focused phases: gather information first, synthesize an answer
last.`

const planningNudge = `Continue building the plan using the planning tools. When every phase has at
least one step, call finalize_plan.`

const recoverySystemPrompt = `A research step has failed. Decide how execution should proceed using exactly
one of the provided tools: retry the step, skip it, replace it with an
alternative tool invocation, or abort the plan.`

func buildPlanningPrompt(query string, toolNames []string, feedback *Feedback) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a research plan for the following query.\n\nQuery: %s\n\n", query)
	fmt.Fprintf(&b, "Execution tools available for steps: %s\n", strings.Join(toolNames, ", "))

	if feedback != nil {
		b.WriteString("\nA previous plan for this query was rejected by evaluation. Address this critique:\n")
		fmt.Fprintf(&b, "Critique: %s\n", feedback.Critique)
		if len(feedback.FailingDimensions) > 0 {
			fmt.Fprintf(&b, "Failing dimensions: %s\n", strings.Join(feedback.FailingDimensions, ", "))
		}
		for _, issue := range feedback.Issues {
			fmt.Fprintf(&b, "- Issue: %s\n  Fix: %s\n", issue.Issue, issue.Fix)
		}
	}
	return b.String()
}

// buildReplanPrompt summarizes the plan state for a single replanning turn:
// the full phase list, the just-completed phase with a reduced per-step
// summary, any failure, and what remains.
func buildReplanPrompt(plan *models.Plan, completed *models.Phase, result *models.PhaseResult, failureInfo string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research query: %s\n\nCurrent plan:\n", plan.Query)
	for _, ph := range plan.Phases {
		fmt.Fprintf(&b, "- [%s] %s (%s, %d steps)\n", ph.ID, ph.Name, ph.Status, len(ph.Steps))
	}

	fmt.Fprintf(&b, "\nJust completed phase: %s (%s)\nStep results:\n", completed.Name, completed.ID)
	if result != nil {
		for _, r := range result.StepResults {
			fmt.Fprintf(&b, "- %s: %s (hasOutput=%t)\n", r.StepID, r.Status, r.Output != nil)
		}
	}

	if failureInfo != "" {
		fmt.Fprintf(&b, "\nFailure: %s\n", failureInfo)
	}

	var remaining []string
	for _, ph := range plan.Phases {
		if ph.Status == models.PhasePending {
			remaining = append(remaining, ph.Name)
		}
	}
	fmt.Fprintf(&b, "\nRemaining phases: %s\n", strings.Join(remaining, ", "))
	b.WriteString("\nReview the plan against what was learned. If changes are needed, apply them " +
		"with the planning tools; use get_phase_results for details. If the plan is still " +
		"sound, make no tool calls.")
	return b.String()
}

func buildRecoveryPrompt(fc *FailureContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research query: %s\n", fc.Plan.Query)
	fmt.Fprintf(&b, "Phase: %s\n", fc.Phase.Name)
	fmt.Fprintf(&b, "Failed step: %s (tool %s)\n", fc.Step.ID, fc.Step.ToolName)
	if len(fc.Step.Config) > 0 {
		fmt.Fprintf(&b, "Step config: %v\n", fc.Step.Config)
	}
	if fc.Result != nil && fc.Result.Error != nil {
		fmt.Fprintf(&b, "Error: %s\n", fc.Result.Error.Message)
	}
	b.WriteString("\nChoose exactly one recovery action.")
	return b.String()
}
