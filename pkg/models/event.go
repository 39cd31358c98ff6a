package models

import (
	"time"

	"github.com/google/uuid"
)

// LogEntry is one append-only record in the research event log. Entries with
// the same session id are totally ordered by append order; the store assigns
// the id and timestamp when they are unset.
type LogEntry struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	PlanID    string         `json:"plan_id,omitempty"`
	PhaseID   string         `json:"phase_id,omitempty"`
	StepID    string         `json:"step_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewLogEntryID returns a fresh log entry identifier.
func NewLogEntryID() string { return "evt-" + uuid.New().String() }

// HasError reports whether the entry carries an error field in its data.
func (e *LogEntry) HasError() bool {
	if e.Data == nil {
		return false
	}
	_, ok := e.Data["error"]
	return ok
}
