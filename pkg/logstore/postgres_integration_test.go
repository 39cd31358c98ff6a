package logstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codeready-toolchain/seeker/pkg/config"
	"github.com/codeready-toolchain/seeker/pkg/events"
	"github.com/codeready-toolchain/seeker/pkg/models"
)

// setupPostgres starts a throwaway Postgres container and returns a migrated
// store plus its connection string.
func setupPostgres(t *testing.T) (*PostgresStore, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("seeker_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(context.Background()) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := NewPostgresStore(ctx, &config.DatabaseConfig{URL: connStr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store, connStr
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	store, _ := setupPostgres(t)
	ctx := context.Background()
	sessionID := models.NewSessionID()

	first, err := store.Append(ctx, &models.LogEntry{
		SessionID: sessionID,
		EventType: events.SessionStarted,
		Data:      map[string]any{"query": "what is quantum computing"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	_, err = store.Append(ctx, &models.LogEntry{
		SessionID: sessionID,
		EventType: events.StepFailed,
		PlanID:    "plan-1",
		PhaseID:   "phase-1",
		StepID:    "step-1",
		Data:      map[string]any{"error": "tool timed out"},
	})
	require.NoError(t, err)

	t.Run("find by session in append order", func(t *testing.T) {
		entries, err := store.FindBySession(ctx, sessionID)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, events.SessionStarted, entries[0].EventType)
		assert.Equal(t, "what is quantum computing", entries[0].Data["query"])
		assert.Equal(t, "plan-1", entries[1].PlanID)
	})

	t.Run("query with error filter", func(t *testing.T) {
		hasErr := true
		entries, err := store.Query(ctx, Filter{SessionID: sessionID, HasError: &hasErr})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, events.StepFailed, entries[0].EventType)
	})

	t.Run("query with event type and desc order", func(t *testing.T) {
		entries, err := store.Query(ctx, Filter{
			SessionID:  sessionID,
			EventTypes: []string{events.SessionStarted, events.StepFailed},
			Order:      OrderDesc,
			Limit:      1,
		})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, events.StepFailed, entries[0].EventType)
	})

	t.Run("result round trip", func(t *testing.T) {
		result := &models.ResearchResult{
			SessionID:  sessionID,
			Query:      "what is quantum computing",
			Answer:     "qubits",
			Confidence: 0.8,
		}
		require.NoError(t, store.SaveResult(ctx, result))
		// Upsert replaces.
		result.Answer = "qubits and superposition"
		require.NoError(t, store.SaveResult(ctx, result))

		got, err := store.GetResult(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, "qubits and superposition", got.Answer)
	})
}

func TestPostgresNotifyBridge(t *testing.T) {
	store, connStr := setupPostgres(t)
	ctx := context.Background()

	bus := events.NewBus(nil)
	defer bus.Close()

	listener := NewNotifyListener(connStr, bus, store)
	require.NoError(t, listener.Start(ctx))
	t.Cleanup(func() { listener.Stop(context.Background()) })

	sessionID := models.NewSessionID()
	sub := bus.Subscribe(events.SessionChannel(sessionID))

	t.Run("append is delivered through NOTIFY", func(t *testing.T) {
		_, err := store.Append(ctx, &models.LogEntry{
			SessionID: sessionID,
			EventType: events.PlanCreated,
			PlanID:    "plan-1",
			Data:      map[string]any{"phases": 2},
		})
		require.NoError(t, err)

		select {
		case got := <-sub.C:
			assert.Equal(t, events.PlanCreated, got.EventType)
			assert.Equal(t, "plan-1", got.PlanID)
			assert.EqualValues(t, 2, got.Data["phases"])
		case <-time.After(10 * time.Second):
			t.Fatal("NOTIFY entry never reached the bus")
		}
	})

	t.Run("oversized payload is refetched from the database", func(t *testing.T) {
		big := strings.Repeat("x", notifyPayloadLimit+100)
		_, err := store.Append(ctx, &models.LogEntry{
			SessionID: sessionID,
			EventType: events.StepCompleted,
			Data:      map[string]any{"output": big},
		})
		require.NoError(t, err)

		select {
		case got := <-sub.C:
			assert.Equal(t, events.StepCompleted, got.EventType)
			assert.Equal(t, big, got.Data["output"])
		case <-time.After(10 * time.Second):
			t.Fatal("truncated entry never reached the bus")
		}
	})
}
