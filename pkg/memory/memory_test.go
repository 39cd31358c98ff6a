package memory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerLifecycle(t *testing.T) {
	t.Run("initialize and get", func(t *testing.T) {
		mgr := NewManager()
		m, err := mgr.Initialize("session-1", "what is quantum computing")
		require.NoError(t, err)
		assert.Equal(t, "session-1", m.SessionID())
		assert.Equal(t, "what is quantum computing", m.Query())
		assert.Same(t, m, mgr.Get("session-1"))
	})

	t.Run("double initialize rejected", func(t *testing.T) {
		mgr := NewManager()
		_, err := mgr.Initialize("session-1", "q")
		require.NoError(t, err)
		_, err = mgr.Initialize("session-1", "q again")
		require.Error(t, err)
	})

	t.Run("cleanup is idempotent", func(t *testing.T) {
		mgr := NewManager()
		_, err := mgr.Initialize("session-1", "q")
		require.NoError(t, err)
		assert.Equal(t, 1, mgr.ActiveSessions())

		mgr.Cleanup("session-1")
		mgr.Cleanup("session-1")
		assert.Nil(t, mgr.Get("session-1"))
		assert.Equal(t, 0, mgr.ActiveSessions())
	})
}

func TestWorkingMemory(t *testing.T) {
	newMemory := func(t *testing.T) *WorkingMemory {
		t.Helper()
		m, err := NewManager().Initialize("session-1", "q")
		require.NoError(t, err)
		return m
	}

	t.Run("phase tracking", func(t *testing.T) {
		m := newMemory(t)
		m.UpdatePhase("search", 0)
		m.UpdatePhase("synthesize", 1)
		name, order := m.CurrentPhase()
		assert.Equal(t, "synthesize", name)
		assert.Equal(t, 1, order)
	})

	t.Run("step and goal tracking", func(t *testing.T) {
		m := newMemory(t)
		m.UpdateStep("step-1")
		m.UpdateStep("step-2")
		m.SetPrimaryGoal("explain quantum computing")

		assert.Equal(t, "step-2", m.CurrentStep())
		assert.Equal(t, "explain quantum computing", m.PrimaryGoal())
	})

	t.Run("lists accumulate in order", func(t *testing.T) {
		m := newMemory(t)
		m.AddSubGoal("define terms")
		m.AddSubGoal("find applications")
		m.AddGatheredInfo("qubits exist")
		m.AddGap("error correction unclear")
		m.AddHypothesis("decoherence dominates error rates")
		m.AppendThought("start from the definition")
		m.AppendThought("then survey applications")

		assert.Equal(t, []string{"define terms", "find applications"}, m.SubGoals())
		assert.Equal(t, []string{"qubits exist"}, m.GatheredInfo())
		assert.Equal(t, []string{"error correction unclear"}, m.Gaps())
		assert.Equal(t, []string{"decoherence dominates error rates"}, m.Hypotheses())
		assert.Equal(t, []string{"start from the definition", "then survey applications"}, m.ThoughtChain())
	})

	t.Run("returned slices are copies", func(t *testing.T) {
		m := newMemory(t)
		m.AddSubGoal("a")
		goals := m.SubGoals()
		goals[0] = "mutated"
		assert.Equal(t, []string{"a"}, m.SubGoals())
	})

	t.Run("typed scratchpad", func(t *testing.T) {
		m := newMemory(t)
		m.SetScratchPadValue("retries", 3)

		n, ok := ScratchValue[int](m, "retries")
		require.True(t, ok)
		assert.Equal(t, 3, n)

		_, ok = ScratchValue[string](m, "retries")
		assert.False(t, ok)

		_, ok = ScratchValue[int](m, "missing")
		assert.False(t, ok)
	})

	t.Run("concurrent access is safe", func(t *testing.T) {
		m := newMemory(t)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				m.AddGatheredInfo("info")
				m.SetScratchPadValue("k", 1)
			}()
			go func() {
				defer wg.Done()
				_ = m.GatheredInfo()
				_, _ = ScratchValue[int](m, "k")
			}()
		}
		wg.Wait()
		assert.Len(t, m.GatheredInfo(), 8)
	})
}
