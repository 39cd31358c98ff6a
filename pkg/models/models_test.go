package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanNavigation(t *testing.T) {
	plan := NewPlan("what is quantum computing")
	phase := &Phase{ID: NewPhaseID(), PlanID: plan.ID, Name: "Search", Status: PhasePending}
	step := &Step{ID: NewStepID(), PhaseID: phase.ID, Type: StepToolCall, ToolName: "tavily_search", Status: StepPending}
	phase.Steps = append(phase.Steps, step)
	plan.Phases = append(plan.Phases, phase)

	t.Run("find phase", func(t *testing.T) {
		assert.Same(t, phase, plan.FindPhase(phase.ID))
		assert.Nil(t, plan.FindPhase("phase-missing"))
	})

	t.Run("find step returns owning phase", func(t *testing.T) {
		gotPhase, gotStep := plan.FindStep(step.ID)
		assert.Same(t, phase, gotPhase)
		assert.Same(t, step, gotStep)

		gotPhase, gotStep = plan.FindStep("step-missing")
		assert.Nil(t, gotPhase)
		assert.Nil(t, gotStep)
	})

	t.Run("pending steps", func(t *testing.T) {
		done := &Step{ID: NewStepID(), Status: StepCompleted}
		phase.Steps = append(phase.Steps, done)
		pending := phase.PendingSteps()
		require.Len(t, pending, 1)
		assert.Same(t, step, pending[0])
	})
}

func TestStepResultOutputs(t *testing.T) {
	t.Run("text output", func(t *testing.T) {
		r := &StepResult{Output: "an answer"}
		text, ok := r.OutputText()
		require.True(t, ok)
		assert.Equal(t, "an answer", text)

		_, ok = (&StepResult{Output: 42}).OutputText()
		assert.False(t, ok)
	})

	t.Run("typed search results", func(t *testing.T) {
		r := &StepResult{Output: []SearchResult{{URL: "https://a.example", Score: 0.8}}}
		results, ok := r.OutputSearchResults()
		require.True(t, ok)
		assert.Equal(t, "https://a.example", results[0].URL)
	})

	t.Run("search results after JSON round trip", func(t *testing.T) {
		original := &StepResult{Output: []SearchResult{
			{URL: "https://a.example", Title: "A", Content: "text", Score: 0.8},
		}}
		raw, err := json.Marshal(original)
		require.NoError(t, err)
		var decoded StepResult
		require.NoError(t, json.Unmarshal(raw, &decoded))

		results, ok := decoded.OutputSearchResults()
		require.True(t, ok)
		require.Len(t, results, 1)
		assert.Equal(t, "A", results[0].Title)
		assert.InDelta(t, 0.8, results[0].Score, 1e-9)
	})

	t.Run("non search output", func(t *testing.T) {
		_, ok := (&StepResult{Output: "plain text"}).OutputSearchResults()
		assert.False(t, ok)
		_, ok = (&StepResult{Output: []any{map[string]any{"title": "no url"}}}).OutputSearchResults()
		assert.False(t, ok)
	})
}

func TestTokenUsageAdd(t *testing.T) {
	total := TokenUsage{}
	total.Add(TokenUsage{Prompt: 10, Completion: 5, Total: 15})
	total.Add(TokenUsage{Prompt: 1, Completion: 2, Total: 3})
	assert.Equal(t, TokenUsage{Prompt: 11, Completion: 7, Total: 18}, total)
}

func TestIDPrefixes(t *testing.T) {
	assert.Contains(t, NewPlanID(), "plan-")
	assert.Contains(t, NewPhaseID(), "phase-")
	assert.Contains(t, NewStepID(), "step-")
	assert.Contains(t, NewSessionID(), "session-")
	assert.Contains(t, NewSubQueryID(), "sq-")
	assert.Contains(t, NewLogEntryID(), "evt-")
}
