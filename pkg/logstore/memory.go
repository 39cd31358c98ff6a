package logstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codeready-toolchain/seeker/pkg/events"
	"github.com/codeready-toolchain/seeker/pkg/models"
)

// MemoryStore keeps the event log in process memory. Append and publish
// happen under one lock so subscribers observe entries in append order.
// Used by tests and by runs without a database configured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*models.LogEntry
	results map[string]*models.ResearchResult
	bus     *events.Bus
}

// NewMemoryStore creates an empty store publishing on the given bus. A nil
// bus disables publishing.
func NewMemoryStore(bus *events.Bus) *MemoryStore {
	return &MemoryStore{
		results: make(map[string]*models.ResearchResult),
		bus:     bus,
	}
}

// Append stores the entry and publishes it atomically.
func (s *MemoryStore) Append(_ context.Context, entry *models.LogEntry) (*models.LogEntry, error) {
	if entry == nil {
		return nil, fmt.Errorf("cannot append nil entry")
	}
	if entry.SessionID == "" {
		return nil, fmt.Errorf("cannot append entry without session id")
	}

	stored := *entry
	if stored.ID == "" {
		stored.ID = models.NewLogEntryID()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &stored)
	if s.bus != nil {
		s.bus.Publish(&stored)
	}
	return &stored, nil
}

// FindBySession returns the session's entries in append order.
func (s *MemoryStore) FindBySession(ctx context.Context, sessionID string) ([]*models.LogEntry, error) {
	return s.Query(ctx, Filter{SessionID: sessionID})
}

// Query returns entries matching the filter, ordered by append position.
func (s *MemoryStore) Query(_ context.Context, filter Filter) ([]*models.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.LogEntry
	for _, e := range s.entries {
		if matches(e, filter) {
			out = append(out, e)
		}
	}
	if filter.Order == OrderDesc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(e *models.LogEntry, f Filter) bool {
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if len(f.EventTypes) > 0 && !contains(f.EventTypes, e.EventType) {
		return false
	}
	if len(f.IDs) > 0 && !contains(f.IDs, e.ID) {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	if f.HasError != nil && e.HasError() != *f.HasError {
		return false
	}
	return true
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// SaveResult stores the final result for its session, replacing any previous
// one.
func (s *MemoryStore) SaveResult(_ context.Context, result *models.ResearchResult) error {
	if result == nil || result.SessionID == "" {
		return fmt.Errorf("cannot save result without session id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.SessionID] = result
	return nil
}

// GetResult returns the saved result or an error when none exists.
func (s *MemoryStore) GetResult(_ context.Context, sessionID string) (*models.ResearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[sessionID]
	if !ok {
		return nil, fmt.Errorf("no result for session %s", sessionID)
	}
	return result, nil
}
