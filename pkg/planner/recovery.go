package planner

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/seeker/pkg/llm"
	"github.com/codeready-toolchain/seeker/pkg/models"
)

// RecoveryAction is the planner's verdict on a failed step.
type RecoveryAction string

const (
	RecoveryRetry       RecoveryAction = "retry"
	RecoverySkip        RecoveryAction = "skip"
	RecoveryAlternative RecoveryAction = "alternative"
	RecoveryAbort       RecoveryAction = "abort"
)

// RecoveryModifications carries the optional payload of a recovery decision.
type RecoveryModifications struct {
	// RetryWithConfig replaces the step config on retry.
	RetryWithConfig map[string]any `json:"retry_with_config,omitempty"`

	// AlternativeSteps are synthetic replacements for the failed step.
	AlternativeSteps []*models.Step `json:"alternative_steps,omitempty"`
}

// RecoveryDecision is the outcome of one decideRecovery turn.
type RecoveryDecision struct {
	Action        RecoveryAction         `json:"action"`
	Reason        string                 `json:"reason"`
	Modifications *RecoveryModifications `json:"modifications,omitempty"`
}

// FailureContext describes a failed step for recovery deliberation.
type FailureContext struct {
	Plan   *models.Plan
	Phase  *models.Phase
	Step   *models.Step
	Result *models.StepResult
}

// DecideRecovery runs one LLM turn against the recovery catalog and maps the
// first recognized tool-call to a decision. No tool-call means abort.
func (p *Planner) DecideRecovery(ctx context.Context, fc *FailureContext) (*RecoveryDecision, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: recoverySystemPrompt},
		{Role: llm.RoleUser, Content: buildRecoveryPrompt(fc)},
	}
	resp, err := p.client.Chat(ctx, &llm.Request{Messages: messages, Tools: recoveryTools()})
	if err != nil {
		return nil, fmt.Errorf("recovery turn failed: %w", err)
	}

	for _, call := range resp.Message.ToolCalls {
		if decision := p.mapRecoveryCall(fc, call); decision != nil {
			return decision, nil
		}
	}
	return &RecoveryDecision{
		Action: RecoveryAbort,
		Reason: "No recovery decision made by planner",
	}, nil
}

func (p *Planner) mapRecoveryCall(fc *FailureContext, call llm.ToolCall) *RecoveryDecision {
	args := call.Function.Arguments
	if args == nil {
		args = map[string]any{}
	}
	reason := stringArg(args, "reason")

	switch call.Function.Name {
	case toolRetryStep:
		decision := &RecoveryDecision{Action: RecoveryRetry, Reason: reason}
		if cfg := mapArg(args, "modifiedConfig"); len(cfg) > 0 {
			decision.Modifications = &RecoveryModifications{RetryWithConfig: cfg}
		}
		return decision
	case toolSkipStep:
		return &RecoveryDecision{Action: RecoverySkip, Reason: reason}
	case toolReplaceStep:
		toolName := stringArg(args, "alternativeToolName")
		if toolName == "" || !p.registry.Has(toolName) {
			p.logger.Warn("recovery proposed unknown alternative tool", "tool", toolName)
			return nil
		}
		alt := &models.Step{
			ID:       models.NewStepID(),
			PhaseID:  fc.Step.PhaseID,
			Type:     models.StepToolCall,
			ToolName: toolName,
			Config:   mapArg(args, "alternativeConfig"),
			Status:   models.StepPending,
		}
		return &RecoveryDecision{
			Action:        RecoveryAlternative,
			Reason:        reason,
			Modifications: &RecoveryModifications{AlternativeSteps: []*models.Step{alt}},
		}
	case toolAbortPlan:
		return &RecoveryDecision{Action: RecoveryAbort, Reason: reason}
	default:
		return nil
	}
}
