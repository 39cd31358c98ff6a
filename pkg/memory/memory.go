// Package memory holds the per-session working memory: a non-durable
// coordination scratchpad shared by the planner, executors and analyzers for
// the lifetime of one research session.
package memory

import (
	"fmt"
	"sync"
	"time"
)

// WorkingMemory is one session's scratchpad. Reads may run concurrently;
// writes are serialized by the internal lock.
type WorkingMemory struct {
	mu sync.RWMutex

	sessionID    string
	query        string
	createdAt    time.Time
	currentPhase string
	phaseOrder   int
	currentStep  string
	primaryGoal  string

	subGoals         []string
	gatheredInfo     []string
	gaps             []string
	activeHypotheses []string
	thoughtChain     []string
	scratchPad       map[string]any
}

// SessionID returns the owning session.
func (m *WorkingMemory) SessionID() string {
	return m.sessionID
}

// Query returns the original research query.
func (m *WorkingMemory) Query() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.query
}

// UpdatePhase records the phase currently executing.
func (m *WorkingMemory) UpdatePhase(name string, order int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentPhase = name
	m.phaseOrder = order
}

// CurrentPhase returns the phase last recorded via UpdatePhase.
func (m *WorkingMemory) CurrentPhase() (string, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentPhase, m.phaseOrder
}

// UpdateStep records the step currently executing.
func (m *WorkingMemory) UpdateStep(stepID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentStep = stepID
}

// CurrentStep returns the step last recorded via UpdateStep.
func (m *WorkingMemory) CurrentStep() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentStep
}

// SetPrimaryGoal records the session's primary research goal.
func (m *WorkingMemory) SetPrimaryGoal(goal string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.primaryGoal = goal
}

// PrimaryGoal returns the recorded primary goal.
func (m *WorkingMemory) PrimaryGoal() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.primaryGoal
}

// AddSubGoal appends a sub-goal derived from the query.
func (m *WorkingMemory) AddSubGoal(goal string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subGoals = append(m.subGoals, goal)
}

// SubGoals returns a copy of the recorded sub-goals.
func (m *WorkingMemory) SubGoals() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.subGoals...)
}

// AddGatheredInfo appends a piece of gathered information.
func (m *WorkingMemory) AddGatheredInfo(info string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gatheredInfo = append(m.gatheredInfo, info)
}

// GatheredInfo returns a copy of the gathered information.
func (m *WorkingMemory) GatheredInfo() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.gatheredInfo...)
}

// AddGap records a known gap in the gathered information.
func (m *WorkingMemory) AddGap(gap string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gaps = append(m.gaps, gap)
}

// Gaps returns a copy of the recorded gaps.
func (m *WorkingMemory) Gaps() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.gaps...)
}

// AddHypothesis records a hypothesis under active investigation.
func (m *WorkingMemory) AddHypothesis(hypothesis string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeHypotheses = append(m.activeHypotheses, hypothesis)
}

// Hypotheses returns a copy of the active hypotheses.
func (m *WorkingMemory) Hypotheses() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.activeHypotheses...)
}

// AppendThought extends the session's ordered thought chain.
func (m *WorkingMemory) AppendThought(thought string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thoughtChain = append(m.thoughtChain, thought)
}

// ThoughtChain returns a copy of the thought chain in append order.
func (m *WorkingMemory) ThoughtChain() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.thoughtChain...)
}

// SetScratchPadValue stores an arbitrary keyed value.
func (m *WorkingMemory) SetScratchPadValue(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scratchPad[key] = value
}

// ScratchPadValue returns the raw value for key.
func (m *WorkingMemory) ScratchPadValue(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.scratchPad[key]
	return v, ok
}

// ScratchValue returns the value for key typed as T. The second return is
// false when the key is absent or holds a different type.
func ScratchValue[T any](m *WorkingMemory, key string) (T, bool) {
	var zero T
	raw, ok := m.ScratchPadValue(key)
	if !ok {
		return zero, false
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Manager is the registry of active working memories, keyed by session id.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*WorkingMemory
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*WorkingMemory)}
}

// Initialize creates the working memory for a new session. Initializing an
// already-active session is an error; it would silently discard state.
func (r *Manager) Initialize(sessionID, query string) (*WorkingMemory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[sessionID]; exists {
		return nil, fmt.Errorf("working memory already initialized for session %s", sessionID)
	}
	m := &WorkingMemory{
		sessionID:  sessionID,
		query:      query,
		createdAt:  time.Now(),
		scratchPad: make(map[string]any),
	}
	r.sessions[sessionID] = m
	return m, nil
}

// Get returns the session's working memory, or nil when none is active.
func (r *Manager) Get(sessionID string) *WorkingMemory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

// Cleanup releases the session's working memory. Idempotent; the orchestrator
// defers it so both success and failure paths release state.
func (r *Manager) Cleanup(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// ActiveSessions returns the number of sessions currently holding memory.
func (r *Manager) ActiveSessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
