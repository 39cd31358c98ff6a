package planner

import "github.com/codeready-toolchain/seeker/pkg/llm"

// Planning tool names. The catalog is closed; the loop rejects anything
// else.
const (
	toolCreatePlan       = "create_plan"
	toolAddPhase         = "add_phase"
	toolAddStep          = "add_step"
	toolModifyStep       = "modify_step"
	toolRemoveStep       = "remove_step"
	toolSkipPhase        = "skip_phase"
	toolInsertPhaseAfter = "insert_phase_after"
	toolGetPlanStatus    = "get_plan_status"
	toolGetPhaseResults  = "get_phase_results"
	toolFinalizePlan     = "finalize_plan"
)

// Recovery tool names.
const (
	toolRetryStep   = "retry_step"
	toolSkipStep    = "skip_step"
	toolReplaceStep = "replace_step"
	toolAbortPlan   = "abort_plan"
)

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// planningTools is the closed planning catalog offered on every planning
// and replanning turn.
func planningTools() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        toolCreatePlan,
			Description: "Initialize a new empty research plan. Must be called before any other tool.",
			Parameters: objectSchema(map[string]any{
				"query": stringProp("The research query the plan answers"),
				"name":  stringProp("Short plan name"),
			}, "query"),
		},
		{
			Name:        toolAddPhase,
			Description: "Append a phase to the plan. Returns the new phase id.",
			Parameters: objectSchema(map[string]any{
				"name":             stringProp("Phase name"),
				"description":      stringProp("What the phase accomplishes"),
				"replanCheckpoint": map[string]any{"type": "boolean", "description": "Consult the planner again after this phase completes"},
			}, "name"),
		},
		{
			Name:        toolAddStep,
			Description: "Add a step to an existing phase. Config must satisfy the tool's requirements.",
			Parameters: objectSchema(map[string]any{
				"phaseId":  stringProp("Target phase id"),
				"type":     stringProp("Step type: tool_call, llm_call, search, fetch or llm"),
				"toolName": stringProp("Registered tool to invoke"),
				"config":   map[string]any{"type": "object", "description": "Tool configuration"},
				"dependsOn": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Step ids within the same phase that must finish first",
				},
			}, "phaseId", "toolName", "config"),
		},
		{
			Name:        toolModifyStep,
			Description: "Overwrite fields of an existing step.",
			Parameters: objectSchema(map[string]any{
				"stepId":  stringProp("Step to modify"),
				"changes": map[string]any{"type": "object", "description": "Fields to overwrite: toolName, type, config, dependsOn"},
			}, "stepId", "changes"),
		},
		{
			Name:        toolRemoveStep,
			Description: "Remove a step from the plan.",
			Parameters: objectSchema(map[string]any{
				"stepId": stringProp("Step to remove"),
				"reason": stringProp("Why the step is removed"),
			}, "stepId"),
		},
		{
			Name:        toolSkipPhase,
			Description: "Mark a phase as skipped so execution passes over it.",
			Parameters: objectSchema(map[string]any{
				"phaseId": stringProp("Phase to skip"),
				"reason":  stringProp("Why the phase is skipped"),
			}, "phaseId"),
		},
		{
			Name:        toolInsertPhaseAfter,
			Description: "Insert a new phase directly after an existing one.",
			Parameters: objectSchema(map[string]any{
				"afterPhaseId":     stringProp("Phase the new phase follows"),
				"name":             stringProp("Phase name"),
				"description":      stringProp("What the phase accomplishes"),
				"replanCheckpoint": map[string]any{"type": "boolean"},
			}, "afterPhaseId", "name"),
		},
		{
			Name:        toolGetPlanStatus,
			Description: "Return the current plan structure and statuses.",
			Parameters:  objectSchema(map[string]any{}),
		},
		{
			Name:        toolGetPhaseResults,
			Description: "Return a summary of an executed phase's step results.",
			Parameters: objectSchema(map[string]any{
				"phaseId": stringProp("Phase whose results to summarize"),
			}, "phaseId"),
		},
		{
			Name:        toolFinalizePlan,
			Description: "Finish planning. Fails while any phase has no steps.",
			Parameters:  objectSchema(map[string]any{}),
		},
	}
}

// recoveryTools is the closed recovery catalog for decideRecovery turns.
func recoveryTools() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        toolRetryStep,
			Description: "Retry the failed step, optionally with a modified config.",
			Parameters: objectSchema(map[string]any{
				"stepId":         stringProp("Failed step id"),
				"reason":         stringProp("Why a retry should work"),
				"modifiedConfig": map[string]any{"type": "object", "description": "Replacement config for the retry"},
			}, "stepId", "reason"),
		},
		{
			Name:        toolSkipStep,
			Description: "Skip the failed step and continue.",
			Parameters: objectSchema(map[string]any{
				"stepId": stringProp("Failed step id"),
				"reason": stringProp("Why skipping is acceptable"),
			}, "stepId", "reason"),
		},
		{
			Name:        toolReplaceStep,
			Description: "Replace the failed step with an alternative tool invocation.",
			Parameters: objectSchema(map[string]any{
				"stepId":              stringProp("Failed step id"),
				"alternativeToolName": stringProp("Tool to use instead"),
				"alternativeConfig":   map[string]any{"type": "object", "description": "Config for the alternative tool"},
				"reason":              stringProp("Why the alternative should work"),
			}, "stepId", "alternativeToolName", "alternativeConfig", "reason"),
		},
		{
			Name:        toolAbortPlan,
			Description: "Abort the whole plan. Use when no recovery can produce a useful answer.",
			Parameters: objectSchema(map[string]any{
				"reason": stringProp("Why the plan cannot continue"),
			}, "reason"),
		},
	}
}
