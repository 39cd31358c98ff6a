package decomposer

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/seeker/pkg/events"
	"github.com/codeready-toolchain/seeker/pkg/llm"
	"github.com/codeready-toolchain/seeker/pkg/logstore"
	"github.com/codeready-toolchain/seeker/pkg/models"
)

type cannedLLM struct {
	content string
	err     error
}

func (c cannedLLM) Chat(context.Context, *llm.Request) (*llm.Response, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Response{Message: llm.Message{Role: llm.RoleAssistant, Content: c.content}}, nil
}

func harness(t *testing.T) (*logstore.MemoryStore, *logstore.Emitter) {
	t.Helper()
	store := logstore.NewMemoryStore(nil)
	return store, logstore.NewEmitter(store, "session-1")
}

func storedEventTypes(t *testing.T, store *logstore.MemoryStore) []string {
	t.Helper()
	entries, err := store.FindBySession(context.Background(), "session-1")
	require.NoError(t, err)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.EventType
	}
	return out
}

func TestDecompose(t *testing.T) {
	t.Run("simple query", func(t *testing.T) {
		_, emitter := harness(t)
		d := New(cannedLLM{content: `{"isComplex": false, "reasoning": "single fact", "subQueries": []}`}, nil)

		result, err := d.Decompose(context.Background(), "what year was Go released", emitter)
		require.NoError(t, err)
		assert.False(t, result.IsComplex)
		assert.Empty(t, result.SubQueries)
		assert.Equal(t, "single fact", result.Reasoning)
	})

	t.Run("complex query builds waves and remaps ids", func(t *testing.T) {
		store, emitter := harness(t)
		d := New(cannedLLM{content: "```json\n" + `{
			"isComplex": true,
			"reasoning": "comparison needs both sides first",
			"subQueries": [
				{"id": "q1", "text": "What is Rust's memory model?", "order": 1, "type": "factual", "priority": "high", "complexity": 2},
				{"id": "q2", "text": "What is Go's memory model?", "order": 2, "type": "factual", "priority": "high", "complexity": 2},
				{"id": "q3", "text": "Compare the two memory models", "order": 3, "dependencies": ["q1", "q2"], "type": "comparative", "priority": "medium", "complexity": 3}
			]
		}` + "\n```"}, nil)

		result, err := d.Decompose(context.Background(), "compare Rust and Go memory models", emitter)
		require.NoError(t, err)
		assert.True(t, result.IsComplex)
		require.Len(t, result.SubQueries, 3)

		for _, sq := range result.SubQueries {
			assert.Contains(t, sq.ID, "sq-")
		}
		compare := result.SubQueries[2]
		assert.Equal(t, models.SubQueryComparative, compare.Type)
		require.Len(t, compare.Dependencies, 2)
		assert.Equal(t, result.SubQueries[0].ID, compare.Dependencies[0])
		assert.Equal(t, result.SubQueries[1].ID, compare.Dependencies[1])

		require.Len(t, result.ExecutionPlan, 2)
		assert.Len(t, result.ExecutionPlan[0], 2)
		assert.Len(t, result.ExecutionPlan[1], 1)
		assert.Equal(t, compare.ID, result.ExecutionPlan[1][0].ID)

		types := storedEventTypes(t, store)
		assert.Equal(t, events.DecompositionStarted, types[0])
		assert.Equal(t, events.DecompositionCompleted, types[len(types)-1])
		identified := 0
		for _, typ := range types {
			if typ == events.SubQueryIdentified {
				identified++
			}
		}
		assert.Equal(t, 3, identified)
	})

	t.Run("unknown dependency is treated as satisfied", func(t *testing.T) {
		_, emitter := harness(t)
		d := New(cannedLLM{content: `{
			"isComplex": true, "reasoning": "r",
			"subQueries": [
				{"id": "q1", "text": "first", "order": 1, "dependencies": ["q99"], "type": "factual", "priority": "high", "complexity": 1}
			]
		}`}, nil)

		result, err := d.Decompose(context.Background(), "q", emitter)
		require.NoError(t, err)
		require.Len(t, result.ExecutionPlan, 1)
		assert.Empty(t, result.SubQueries[0].Dependencies)
	})

	t.Run("duplicate model ids still get unique durable ids", func(t *testing.T) {
		_, emitter := harness(t)
		d := New(cannedLLM{content: `{
			"isComplex": true, "reasoning": "r",
			"subQueries": [
				{"id": "q1", "text": "first", "order": 1, "type": "factual", "priority": "high", "complexity": 1},
				{"id": "q1", "text": "second", "order": 2, "type": "factual", "priority": "high", "complexity": 1},
				{"id": "q2", "text": "third", "order": 3, "dependencies": ["q1"], "type": "analytical", "priority": "low", "complexity": 2}
			]
		}`}, nil)

		result, err := d.Decompose(context.Background(), "q", emitter)
		require.NoError(t, err)
		require.Len(t, result.SubQueries, 3)

		seen := map[string]bool{}
		for _, sq := range result.SubQueries {
			assert.False(t, seen[sq.ID], "id %s assigned twice", sq.ID)
			seen[sq.ID] = true
		}
		// The reused label resolves to its first occurrence.
		require.Len(t, result.SubQueries[2].Dependencies, 1)
		assert.Equal(t, result.SubQueries[0].ID, result.SubQueries[2].Dependencies[0])
	})

	t.Run("complexity estimates clamp to the 1..5 scale", func(t *testing.T) {
		_, emitter := harness(t)
		d := New(cannedLLM{content: `{
			"isComplex": true, "reasoning": "r",
			"subQueries": [
				{"id": "q1", "text": "missing estimate", "order": 1, "type": "factual", "priority": "high"},
				{"id": "q2", "text": "overshoot", "order": 2, "type": "factual", "priority": "high", "complexity": 9},
				{"id": "q3", "text": "in range", "order": 3, "type": "factual", "priority": "high", "complexity": 3}
			]
		}`}, nil)

		result, err := d.Decompose(context.Background(), "q", emitter)
		require.NoError(t, err)
		require.Len(t, result.SubQueries, 3)
		assert.Equal(t, 1.0, result.SubQueries[0].EstimatedComplexity)
		assert.Equal(t, 5.0, result.SubQueries[1].EstimatedComplexity)
		assert.Equal(t, 3.0, result.SubQueries[2].EstimatedComplexity)
	})

	t.Run("circular dependencies are a structured error", func(t *testing.T) {
		store, emitter := harness(t)
		d := New(cannedLLM{content: `{
			"isComplex": true, "reasoning": "r",
			"subQueries": [
				{"id": "q1", "text": "a", "order": 1, "dependencies": ["q2"], "type": "factual", "priority": "high", "complexity": 1},
				{"id": "q2", "text": "b", "order": 2, "dependencies": ["q1"], "type": "factual", "priority": "high", "complexity": 1}
			]
		}`}, nil)

		_, err := d.Decompose(context.Background(), "q", emitter)
		var circular *CircularDependencyError
		require.ErrorAs(t, err, &circular)
		assert.Len(t, circular.Remaining, 2)

		types := storedEventTypes(t, store)
		last, findErr := store.FindBySession(context.Background(), "session-1")
		require.NoError(t, findErr)
		assert.Equal(t, events.DecompositionCompleted, types[len(types)-1])
		assert.NotNil(t, last[len(last)-1].Data["error"])
	})

	t.Run("malformed JSON is an error", func(t *testing.T) {
		_, emitter := harness(t)
		d := New(cannedLLM{content: "I think this query is complex because..."}, nil)
		_, err := d.Decompose(context.Background(), "q", emitter)
		require.Error(t, err)
	})

	t.Run("chat error propagates", func(t *testing.T) {
		_, emitter := harness(t)
		d := New(cannedLLM{err: fmt.Errorf("provider down")}, nil)
		_, err := d.Decompose(context.Background(), "q", emitter)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "provider down")
	})

	t.Run("defaults for unknown type and priority", func(t *testing.T) {
		_, emitter := harness(t)
		d := New(cannedLLM{content: `{
			"isComplex": true, "reasoning": "r",
			"subQueries": [{"id": "q1", "text": "a", "order": 1, "type": "mystery", "priority": "urgent", "complexity": 1}]
		}`}, nil)

		result, err := d.Decompose(context.Background(), "q", emitter)
		require.NoError(t, err)
		assert.Equal(t, models.SubQueryFactual, result.SubQueries[0].Type)
		assert.Equal(t, models.PriorityMedium, result.SubQueries[0].Priority)
	})
}
