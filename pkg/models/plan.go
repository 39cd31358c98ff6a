// Package models holds the research domain types shared across the engine.
// Plans form a tree (plan → phases → steps) linked by ids rather than back
// pointers, so subtrees marshal cleanly and mutate under a single owner.
package models

import (
	"time"

	"github.com/google/uuid"
)

// PlanStatus is the lifecycle state of a plan.
type PlanStatus string

const (
	PlanPlanning   PlanStatus = "planning"
	PlanExecuting  PlanStatus = "executing"
	PlanReplanning PlanStatus = "replanning"
	PlanCompleted  PlanStatus = "completed"
	PlanFailed     PlanStatus = "failed"
)

// PhaseStatus is the lifecycle state of a phase.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseRunning   PhaseStatus = "running"
	PhaseCompleted PhaseStatus = "completed"
	PhaseFailed    PhaseStatus = "failed"
	PhaseSkipped   PhaseStatus = "skipped"
)

// StepStatus is the lifecycle state of a step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepType classifies how a step executes.
type StepType string

const (
	StepToolCall StepType = "tool_call"
	StepLLMCall  StepType = "llm_call"
	StepSearch   StepType = "search"
	StepFetch    StepType = "fetch"
	StepLLM      StepType = "llm"
)

// Plan is the executable research plan for one query. Owned by the planner
// while status is planning; transferred to the orchestrator on executing.
type Plan struct {
	ID        string     `json:"id"`
	Query     string     `json:"query"`
	Status    PlanStatus `json:"status"`
	Phases    []*Phase   `json:"phases"`
	CreatedAt time.Time  `json:"created_at"`
}

// Phase is one ordered stage of a plan holding a DAG of steps.
type Phase struct {
	ID          string      `json:"id"`
	PlanID      string      `json:"plan_id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Status      PhaseStatus `json:"status"`
	Steps       []*Step     `json:"steps"`

	// ReplanCheckpoint asks the orchestrator to consult the planner after
	// this phase completes.
	ReplanCheckpoint bool `json:"replan_checkpoint,omitempty"`

	Order int `json:"order"`
}

// Step is one atomic tool invocation. Dependencies reference sibling step
// ids within the same phase.
type Step struct {
	ID           string         `json:"id"`
	PhaseID      string         `json:"phase_id"`
	Type         StepType       `json:"type"`
	ToolName     string         `json:"tool_name"`
	Config       map[string]any `json:"config,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Status       StepStatus     `json:"status"`
	Order        int            `json:"order"`
}

// NewPlanID returns a fresh plan identifier.
func NewPlanID() string { return "plan-" + uuid.New().String() }

// NewPhaseID returns a fresh phase identifier.
func NewPhaseID() string { return "phase-" + uuid.New().String() }

// NewStepID returns a fresh step identifier.
func NewStepID() string { return "step-" + uuid.New().String() }

// NewSessionID returns a fresh session identifier.
func NewSessionID() string { return "session-" + uuid.New().String() }

// NewPlan creates an empty plan in planning state.
func NewPlan(query string) *Plan {
	return &Plan{
		ID:        NewPlanID(),
		Query:     query,
		Status:    PlanPlanning,
		CreatedAt: time.Now(),
	}
}

// FindPhase returns the phase with the given id, or nil.
func (p *Plan) FindPhase(phaseID string) *Phase {
	for _, phase := range p.Phases {
		if phase.ID == phaseID {
			return phase
		}
	}
	return nil
}

// FindStep returns the step with the given id and its owning phase.
func (p *Plan) FindStep(stepID string) (*Phase, *Step) {
	for _, phase := range p.Phases {
		for _, step := range phase.Steps {
			if step.ID == stepID {
				return phase, step
			}
		}
	}
	return nil, nil
}

// PendingSteps returns the phase's steps still awaiting execution.
func (ph *Phase) PendingSteps() []*Step {
	var out []*Step
	for _, s := range ph.Steps {
		if s.Status == StepPending {
			out = append(out, s)
		}
	}
	return out
}
