package logstore

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/seeker/pkg/models"
)

// Ref carries the optional plan/phase/step ids attached to an event.
type Ref struct {
	PlanID  string
	PhaseID string
	StepID  string
}

// Emitter appends events for one session. Append failures propagate to the
// caller; the engine treats them as fatal to the emitting operation.
type Emitter struct {
	store     Store
	sessionID string
}

// NewEmitter creates an emitter bound to a session.
func NewEmitter(store Store, sessionID string) *Emitter {
	return &Emitter{store: store, sessionID: sessionID}
}

// SessionID returns the bound session.
func (e *Emitter) SessionID() string {
	return e.sessionID
}

// Emit appends one event.
func (e *Emitter) Emit(ctx context.Context, eventType string, ref Ref, data map[string]any) error {
	_, err := e.store.Append(ctx, &models.LogEntry{
		SessionID: e.sessionID,
		EventType: eventType,
		PlanID:    ref.PlanID,
		PhaseID:   ref.PhaseID,
		StepID:    ref.StepID,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to append %s event: %w", eventType, err)
	}
	return nil
}
