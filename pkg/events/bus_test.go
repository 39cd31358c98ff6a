package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/seeker/pkg/models"
)

func entry(sessionID, eventType string) *models.LogEntry {
	return &models.LogEntry{
		ID:        models.NewLogEntryID(),
		SessionID: sessionID,
		Timestamp: time.Now(),
		EventType: eventType,
	}
}

func TestBusFanout(t *testing.T) {
	t.Run("session channel receives only its session", func(t *testing.T) {
		bus := NewBus(nil)
		defer bus.Close()

		sub := bus.Subscribe(SessionChannel("session-a"))
		bus.Publish(entry("session-a", SessionStarted))
		bus.Publish(entry("session-b", SessionStarted))
		bus.Publish(entry("session-a", SessionCompleted))

		require.Len(t, sub.C, 2)
		first := <-sub.C
		second := <-sub.C
		assert.Equal(t, SessionStarted, first.EventType)
		assert.Equal(t, SessionCompleted, second.EventType)
		assert.Equal(t, "session-a", first.SessionID)
	})

	t.Run("firehose receives everything in publish order", func(t *testing.T) {
		bus := NewBus(nil)
		defer bus.Close()

		sub := bus.Subscribe(FirehoseChannel)
		for i := 0; i < 5; i++ {
			e := entry("session-a", PlanningIteration)
			e.Data = map[string]any{"iteration": i}
			bus.Publish(e)
		}

		for i := 0; i < 5; i++ {
			got := <-sub.C
			assert.Equal(t, i, got.Data["iteration"])
		}
	})

	t.Run("slow subscriber drops instead of blocking", func(t *testing.T) {
		bus := NewBus(nil)
		defer bus.Close()

		sub := bus.Subscribe(SessionChannel("session-a"))
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < defaultBufferSize+10; i++ {
				bus.Publish(entry("session-a", StepCompleted))
			}
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("publish blocked on a full subscriber")
		}
		assert.Len(t, sub.C, defaultBufferSize)
	})

	t.Run("unsubscribe closes the channel", func(t *testing.T) {
		bus := NewBus(nil)
		defer bus.Close()

		sub := bus.Subscribe(SessionChannel("session-a"))
		bus.Unsubscribe(sub)
		bus.Unsubscribe(sub) // idempotent

		_, open := <-sub.C
		assert.False(t, open)

		// Publishing after unsubscribe must not panic.
		bus.Publish(entry("session-a", SessionCompleted))
	})

	t.Run("close stops delivery", func(t *testing.T) {
		bus := NewBus(nil)
		sub := bus.Subscribe(FirehoseChannel)
		bus.Close()
		bus.Publish(entry("session-a", SessionCompleted))

		_, open := <-sub.C
		assert.False(t, open)
	})
}

func TestKnownEventType(t *testing.T) {
	for _, et := range []string{
		SessionStarted, SessionFailed, PlanCreated, SynthesisPhaseAutoAdded,
		CoverageChecked, RetrievalCycleCompleted,
	} {
		t.Run(et, func(t *testing.T) {
			assert.True(t, KnownEventType(et))
		})
	}
	t.Run("unknown", func(t *testing.T) {
		assert.False(t, KnownEventType("session_paused"))
	})
}

func TestSessionChannel(t *testing.T) {
	id := models.NewSessionID()
	assert.Equal(t, fmt.Sprintf("session:%s", id), SessionChannel(id))
}
