package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/seeker/pkg/events"
	"github.com/codeready-toolchain/seeker/pkg/logstore"
	"github.com/codeready-toolchain/seeker/pkg/models"
	"github.com/codeready-toolchain/seeker/pkg/tools"
)

// recordingExecutor returns canned results and records the configs it saw.
type recordingExecutor struct {
	mu      sync.Mutex
	outputs map[string]any
	err     error
	configs []map[string]any
}

func (r *recordingExecutor) Execute(_ context.Context, step *models.Step) (*tools.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, step.Config)
	if r.err != nil {
		return nil, r.err
	}
	if out, ok := r.outputs[step.ID]; ok {
		return &tools.Result{Output: out}, nil
	}
	return &tools.Result{Output: "output of " + step.ID}, nil
}

func testHarness(t *testing.T) (*models.Plan, *logstore.MemoryStore, *logstore.Emitter) {
	t.Helper()
	plan := models.NewPlan("what is quantum computing")
	store := logstore.NewMemoryStore(nil)
	return plan, store, logstore.NewEmitter(store, "session-1")
}

func eventTypes(t *testing.T, store *logstore.MemoryStore) []string {
	t.Helper()
	entries, err := store.FindBySession(context.Background(), "session-1")
	require.NoError(t, err)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.EventType
	}
	return out
}

func TestStepExecutor(t *testing.T) {
	t.Run("success emits started and completed", func(t *testing.T) {
		plan, store, emitter := testHarness(t)
		search := &recordingExecutor{}
		registry := tools.NewRegistry()
		registry.Register("tavily_search", search, nil)

		step := &models.Step{ID: "step-1", ToolName: "tavily_search", Config: map[string]any{"query": "x"}}
		result, err := NewStepExecutor(registry).Execute(context.Background(), plan, step, nil, emitter)
		require.NoError(t, err)

		assert.Equal(t, models.StepCompleted, result.Status)
		assert.Equal(t, models.StepCompleted, step.Status)
		assert.Equal(t, "output of step-1", result.Output)
		assert.Equal(t, []string{events.StepStarted, events.StepCompleted}, eventTypes(t, store))
	})

	t.Run("tool failure becomes failed result, not error", func(t *testing.T) {
		plan, store, emitter := testHarness(t)
		registry := tools.NewRegistry()
		registry.Register("tavily_search", &recordingExecutor{err: fmt.Errorf("rate limited")}, nil)

		step := &models.Step{ID: "step-1", ToolName: "tavily_search", Config: map[string]any{"query": "x"}}
		result, err := NewStepExecutor(registry).Execute(context.Background(), plan, step, nil, emitter)
		require.NoError(t, err)

		assert.Equal(t, models.StepFailed, result.Status)
		require.NotNil(t, result.Error)
		assert.Contains(t, result.Error.Message, "rate limited")
		assert.Equal(t, []string{events.StepStarted, events.StepFailed}, eventTypes(t, store))
	})

	t.Run("empty search config gets plan query default", func(t *testing.T) {
		plan, _, emitter := testHarness(t)
		search := &recordingExecutor{}
		registry := tools.NewRegistry()
		registry.Register("tavily_search", search, nil)

		step := &models.Step{ID: "step-1", ToolName: "tavily_search"}
		_, err := NewStepExecutor(registry).Execute(context.Background(), plan, step, nil, emitter)
		require.NoError(t, err)

		require.Len(t, search.configs, 1)
		assert.Equal(t, plan.Query, search.configs[0]["query"])
		assert.Equal(t, 5, search.configs[0]["max_results"])
	})

	t.Run("empty fetch config picks first prior url", func(t *testing.T) {
		plan, _, emitter := testHarness(t)
		fetch := &recordingExecutor{}
		registry := tools.NewRegistry()
		registry.Register("web_fetch", fetch, nil)

		prior := []*models.StepResult{{
			Status: models.StepCompleted,
			Output: []models.SearchResult{{URL: "https://a.example", Title: "A"}},
		}}
		step := &models.Step{ID: "step-1", ToolName: "web_fetch"}
		_, err := NewStepExecutor(registry).Execute(context.Background(), plan, step, prior, emitter)
		require.NoError(t, err)

		assert.Equal(t, "https://a.example", fetch.configs[0]["url"])
	})

	t.Run("synthesis config enriched from prior results", func(t *testing.T) {
		plan, _, emitter := testHarness(t)
		synth := &recordingExecutor{}
		registry := tools.NewRegistry()
		registry.Register("synthesize", synth, nil)

		prior := []*models.StepResult{
			{
				Status: models.StepCompleted,
				Output: []models.SearchResult{{URL: "https://a.example", Title: "A", Content: "qubits"}},
			},
			{Status: models.StepCompleted, Output: "fetched article text"},
			{Status: models.StepFailed, Output: "ignored"},
		}
		step := &models.Step{ID: "step-1", ToolName: "synthesize", Config: map[string]any{"prompt": "answer it"}}
		_, err := NewStepExecutor(registry).Execute(context.Background(), plan, step, prior, emitter)
		require.NoError(t, err)

		cfg := synth.configs[0]
		assert.Equal(t, plan.Query, cfg["query"])
		gathered, _ := cfg["context"].(string)
		assert.Contains(t, gathered, "https://a.example")
		assert.Contains(t, gathered, "---")
		assert.Contains(t, gathered, "fetched article text")
		assert.NotContains(t, gathered, "ignored")
		assert.Equal(t, "answer it", cfg["prompt"])
	})
}

func TestPhaseExecutor(t *testing.T) {
	newPhase := func(plan *models.Plan, steps ...*models.Step) *models.Phase {
		phase := &models.Phase{ID: "phase-1", PlanID: plan.ID, Name: "Search", Status: models.PhasePending, Steps: steps}
		for _, s := range steps {
			s.PhaseID = phase.ID
		}
		plan.Phases = append(plan.Phases, phase)
		return phase
	}

	t.Run("waves run in dependency order and collect in insertion order", func(t *testing.T) {
		plan, store, emitter := testHarness(t)
		registry := tools.NewRegistry()
		registry.Register("tavily_search", &recordingExecutor{}, nil)

		phase := newPhase(plan,
			&models.Step{ID: "a", ToolName: "tavily_search", Config: map[string]any{"query": "x"}},
			&models.Step{ID: "b", ToolName: "tavily_search", Config: map[string]any{"query": "x"}},
			&models.Step{ID: "c", ToolName: "tavily_search", Config: map[string]any{"query": "x"}, Dependencies: []string{"a", "b"}},
		)

		result, err := NewPhaseExecutor(NewStepExecutor(registry)).Execute(context.Background(), plan, phase, nil, emitter)
		require.NoError(t, err)

		assert.Equal(t, models.PhaseCompleted, result.Status)
		assert.Equal(t, models.PhaseCompleted, phase.Status)
		require.Len(t, result.StepResults, 3)
		assert.Equal(t, "a", result.StepResults[0].StepID)
		assert.Equal(t, "b", result.StepResults[1].StepID)
		assert.Equal(t, "c", result.StepResults[2].StepID)

		types := eventTypes(t, store)
		assert.Equal(t, events.PhaseStarted, types[0])
		assert.Equal(t, events.PhaseCompleted, types[len(types)-1])
	})

	t.Run("failure short-circuits remaining waves", func(t *testing.T) {
		plan, store, emitter := testHarness(t)
		registry := tools.NewRegistry()
		registry.Register("tavily_search", &recordingExecutor{err: fmt.Errorf("offline")}, nil)
		later := &recordingExecutor{}
		registry.Register("synthesize", later, nil)

		phase := newPhase(plan,
			&models.Step{ID: "a", ToolName: "tavily_search", Config: map[string]any{"query": "x"}},
			&models.Step{ID: "b", ToolName: "synthesize", Config: map[string]any{"prompt": "p"}, Dependencies: []string{"a"}},
		)

		result, err := NewPhaseExecutor(NewStepExecutor(registry)).Execute(context.Background(), plan, phase, nil, emitter)
		require.NoError(t, err)

		assert.Equal(t, models.PhaseFailed, result.Status)
		assert.Equal(t, models.PhaseFailed, phase.Status)
		assert.Equal(t, "a", result.FirstFailed().StepID)
		assert.Empty(t, later.configs, "second wave must not run")

		types := eventTypes(t, store)
		assert.Equal(t, events.PhaseFailed, types[len(types)-1])
	})

	t.Run("later wave observes earlier wave outputs", func(t *testing.T) {
		plan, _, emitter := testHarness(t)
		registry := tools.NewRegistry()
		registry.Register("tavily_search", &recordingExecutor{outputs: map[string]any{
			"a": []models.SearchResult{{URL: "https://found.example"}},
		}}, nil)
		fetch := &recordingExecutor{}
		registry.Register("web_fetch", fetch, nil)

		phase := newPhase(plan,
			&models.Step{ID: "a", ToolName: "tavily_search", Config: map[string]any{"query": "x"}},
			&models.Step{ID: "b", ToolName: "web_fetch", Dependencies: []string{"a"}},
		)

		_, err := NewPhaseExecutor(NewStepExecutor(registry)).Execute(context.Background(), plan, phase, nil, emitter)
		require.NoError(t, err)
		assert.Equal(t, "https://found.example", fetch.configs[0]["url"])
	})

	t.Run("execute pending runs only new steps", func(t *testing.T) {
		plan, _, emitter := testHarness(t)
		search := &recordingExecutor{}
		registry := tools.NewRegistry()
		registry.Register("tavily_search", search, nil)

		phase := newPhase(plan,
			&models.Step{ID: "done", ToolName: "tavily_search", Status: models.StepCompleted},
			&models.Step{ID: "new", ToolName: "tavily_search", Config: map[string]any{"query": "x"}},
		)

		result, err := NewPhaseExecutor(NewStepExecutor(registry)).ExecutePending(context.Background(), plan, phase, nil, emitter)
		require.NoError(t, err)
		require.Len(t, result.StepResults, 1)
		assert.Equal(t, "new", result.StepResults[0].StepID)
		assert.Len(t, search.configs, 1)
	})
}
