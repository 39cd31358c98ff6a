package coverage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/seeker/pkg/config"
	"github.com/codeready-toolchain/seeker/pkg/events"
	"github.com/codeready-toolchain/seeker/pkg/llm"
	"github.com/codeready-toolchain/seeker/pkg/logstore"
	"github.com/codeready-toolchain/seeker/pkg/models"
)

type cannedLLM struct {
	content string
}

func (c cannedLLM) Chat(context.Context, *llm.Request) (*llm.Response, error) {
	return &llm.Response{Message: llm.Message{Role: llm.RoleAssistant, Content: c.content}}, nil
}

func analyze(t *testing.T, content string) (*models.CoverageResult, *logstore.MemoryStore) {
	t.Helper()
	store := logstore.NewMemoryStore(nil)
	emitter := logstore.NewEmitter(store, "session-1")
	a := New(cannedLLM{content: content}, config.DefaultOrchestratorConfig(), nil)
	result, err := a.Analyze(context.Background(), "what is quantum computing", "qubits etc", nil, nil, emitter)
	require.NoError(t, err)
	return result, store
}

func TestAnalyze(t *testing.T) {
	t.Run("overall coverage is mean of answered confidences", func(t *testing.T) {
		result, _ := analyze(t, `{"aspects": [
			{"description": "definition", "answered": true, "confidence": 0.9},
			{"description": "applications", "answered": true, "confidence": 0.8},
			{"description": "limitations", "answered": false, "confidence": 0.9}
		]}`)
		// (0.9 + 0.8 + 0) / 3
		assert.InDelta(t, 0.5667, result.OverallCoverage, 0.001)
		assert.False(t, result.IsComplete)
		assert.Len(t, result.AspectsCovered, 2)
		assert.Len(t, result.AspectsMissing, 1)
	})

	t.Run("complete when coverage meets threshold", func(t *testing.T) {
		result, store := analyze(t, `{"aspects": [
			{"description": "definition", "answered": true, "confidence": 0.9},
			{"description": "applications", "answered": true, "confidence": 0.9}
		]}`)
		assert.True(t, result.IsComplete)
		assert.Empty(t, result.SuggestedRetrievals)

		entries, err := store.FindBySession(context.Background(), "session-1")
		require.NoError(t, err)
		assert.Equal(t, events.CoverageAnalysisStarted, entries[0].EventType)
		assert.Equal(t, events.CoverageAnalysisCompleted, entries[len(entries)-1].EventType)
	})

	t.Run("suggested retrieval priorities", func(t *testing.T) {
		result, _ := analyze(t, `{"aspects": [
			{"description": "borderline", "answered": true, "confidence": 0.75, "searchQuery": "q-low"},
			{"description": "weak", "answered": true, "confidence": 0.5, "searchQuery": "q-med"},
			{"description": "unanswered", "answered": false, "confidence": 0.0, "searchQuery": "q-high"}
		]}`)
		require.Len(t, result.SuggestedRetrievals, 3)
		// Sorted high first.
		assert.Equal(t, models.PriorityHigh, result.SuggestedRetrievals[0].Priority)
		assert.Equal(t, "q-high", result.SuggestedRetrievals[0].SearchQuery)
		assert.Equal(t, models.PriorityMedium, result.SuggestedRetrievals[1].Priority)
		assert.Equal(t, models.PriorityLow, result.SuggestedRetrievals[2].Priority)
	})

	t.Run("missing search query falls back to aspect description", func(t *testing.T) {
		result, _ := analyze(t, `{"aspects": [
			{"description": "hardware requirements", "answered": false, "confidence": 0}
		]}`)
		require.Len(t, result.SuggestedRetrievals, 1)
		assert.Equal(t, "hardware requirements", result.SuggestedRetrievals[0].SearchQuery)
	})

	t.Run("no aspects yields zero coverage", func(t *testing.T) {
		result, _ := analyze(t, `{"aspects": []}`)
		assert.Zero(t, result.OverallCoverage)
		assert.False(t, result.IsComplete)
	})

	t.Run("confidence is clamped", func(t *testing.T) {
		result, _ := analyze(t, `{"aspects": [
			{"description": "a", "answered": true, "confidence": 1.7}
		]}`)
		assert.InDelta(t, 1.0, result.OverallCoverage, 1e-9)
	})

	t.Run("malformed JSON is an error", func(t *testing.T) {
		store := logstore.NewMemoryStore(nil)
		emitter := logstore.NewEmitter(store, "session-1")
		a := New(cannedLLM{content: "the coverage looks fine to me"}, config.DefaultOrchestratorConfig(), nil)
		_, err := a.Analyze(context.Background(), "q", "a", nil, nil, emitter)
		require.Error(t, err)
	})
}
