package reflection

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/seeker/pkg/llm"
)

type sequenceLLM struct {
	contents []string
	errs     []error
	calls    int
}

func (s *sequenceLLM) Chat(context.Context, *llm.Request) (*llm.Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return &llm.Response{Message: llm.Message{Role: llm.RoleAssistant, Content: s.contents[i]}}, nil
}

func TestRefine(t *testing.T) {
	t.Run("stops at quality target without rewriting", func(t *testing.T) {
		client := &sequenceLLM{contents: []string{
			`{"quality": 0.9, "critique": "already solid", "improvedAnswer": "should not be used"}`,
		}}
		r := New(client, nil)

		result, err := r.Refine(context.Background(), "q", "good answer", nil, DefaultConfig())
		require.NoError(t, err)
		assert.Equal(t, "good answer", result.FinalAnswer)
		assert.Equal(t, 1, result.Iterations)
		assert.InDelta(t, 0.9, result.FinalQuality, 1e-9)
		assert.Equal(t, 1, client.calls)
	})

	t.Run("adopts improved answer and tracks improvement", func(t *testing.T) {
		client := &sequenceLLM{contents: []string{
			`{"quality": 0.5, "critique": "thin", "improvedAnswer": "a fuller answer"}`,
			`{"quality": 0.7, "critique": "better", "improvedAnswer": "an even fuller answer"}`,
		}}
		r := New(client, nil)

		result, err := r.Refine(context.Background(), "q", "thin answer", nil, DefaultConfig())
		require.NoError(t, err)
		// Second iteration scores the rewrite but the cap stops a third turn.
		assert.Equal(t, 2, result.Iterations)
		assert.InDelta(t, 0.5, result.InitialQuality, 1e-9)
		assert.InDelta(t, 0.7, result.FinalQuality, 1e-9)
		assert.InDelta(t, 0.2, result.TotalImprovement, 1e-9)
		assert.Equal(t, "an even fuller answer", result.FinalAnswer)
	})

	t.Run("stops when improvement stalls", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxIterations = 5
		client := &sequenceLLM{contents: []string{
			`{"quality": 0.5, "improvedAnswer": "v2"}`,
			`{"quality": 0.51, "improvedAnswer": "v3"}`,
			`{"quality": 0.9, "improvedAnswer": "v4"}`,
		}}
		r := New(client, nil)

		result, err := r.Refine(context.Background(), "q", "v1", nil, cfg)
		require.NoError(t, err)
		// 0.51 - 0.5 < 0.05, so the third turn never runs and v3 is not adopted.
		assert.Equal(t, 2, result.Iterations)
		assert.Equal(t, "v2", result.FinalAnswer)
		assert.Equal(t, 2, client.calls)
	})

	t.Run("first turn error propagates", func(t *testing.T) {
		client := &sequenceLLM{errs: []error{fmt.Errorf("provider down")}}
		r := New(client, nil)
		_, err := r.Refine(context.Background(), "q", "a", nil, DefaultConfig())
		require.Error(t, err)
	})

	t.Run("later turn error keeps current answer", func(t *testing.T) {
		client := &sequenceLLM{
			contents: []string{`{"quality": 0.5, "improvedAnswer": "v2"}`, ""},
			errs:     []error{nil, fmt.Errorf("provider down")},
		}
		r := New(client, nil)

		result, err := r.Refine(context.Background(), "q", "v1", nil, DefaultConfig())
		require.NoError(t, err)
		assert.Equal(t, "v2", result.FinalAnswer)
		assert.Equal(t, 1, result.Iterations)
	})
}
