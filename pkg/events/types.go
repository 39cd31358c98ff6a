// Package events carries the closed event taxonomy and the in-process bus
// that fans log entries out to session-scoped and global subscribers. The
// event stream is the canonical coordination medium between the orchestration
// components and any observer.
package events

// Recognized event types. The set is closed; stores and dashboards may rely
// on it being exhaustive.
const (
	SessionStarted   = "session_started"
	SessionCompleted = "session_completed"
	SessionFailed    = "session_failed"

	PlanningStarted   = "planning_started"
	PlanningIteration = "planning_iteration"
	PlanCreated       = "plan_created"
	PhaseAdded        = "phase_added"
	StepAdded         = "step_added"
	StepModified      = "step_modified"
	StepRemoved       = "step_removed"

	PhaseStarted   = "phase_started"
	PhaseCompleted = "phase_completed"
	PhaseFailed    = "phase_failed"
	StepStarted    = "step_started"
	StepCompleted  = "step_completed"
	StepFailed     = "step_failed"

	ReplanTriggered         = "replan_triggered"
	ReplanCompleted         = "replan_completed"
	AutoRecovery            = "auto_recovery"
	StepAutoAdded           = "step_auto_added"
	SynthesisPhaseAutoAdded = "synthesis_phase_auto_added"

	EvaluationStarted       = "evaluation_started"
	EvaluationCompleted     = "evaluation_completed"
	PlanEvaluationWarning   = "plan_evaluation_warning"
	PlanRegenerationStarted = "plan_regeneration_started"

	DecompositionStarted       = "decomposition_started"
	SubQueryIdentified         = "sub_query_identified"
	DecompositionCompleted     = "decomposition_completed"
	SubQueryExecutionStarted   = "sub_query_execution_started"
	SubQueryExecutionCompleted = "sub_query_execution_completed"
	FinalSynthesisStarted      = "final_synthesis_started"
	FinalSynthesisCompleted    = "final_synthesis_completed"

	CoverageAnalysisStarted   = "coverage_analysis_started"
	CoverageAnalysisCompleted = "coverage_analysis_completed"
	CoverageChecked           = "coverage_checked"
	RetrievalCycleStarted     = "retrieval_cycle_started"
	RetrievalCycleCompleted   = "retrieval_cycle_completed"
)

// FirehoseChannel receives every entry regardless of session.
const FirehoseChannel = "all"

// SessionChannel returns the channel name scoped to one session.
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

var knownEventTypes = map[string]bool{
	SessionStarted: true, SessionCompleted: true, SessionFailed: true,
	PlanningStarted: true, PlanningIteration: true, PlanCreated: true,
	PhaseAdded: true, StepAdded: true, StepModified: true, StepRemoved: true,
	PhaseStarted: true, PhaseCompleted: true, PhaseFailed: true,
	StepStarted: true, StepCompleted: true, StepFailed: true,
	ReplanTriggered: true, ReplanCompleted: true, AutoRecovery: true,
	StepAutoAdded: true, SynthesisPhaseAutoAdded: true,
	EvaluationStarted: true, EvaluationCompleted: true,
	PlanEvaluationWarning: true, PlanRegenerationStarted: true,
	DecompositionStarted: true, SubQueryIdentified: true, DecompositionCompleted: true,
	SubQueryExecutionStarted: true, SubQueryExecutionCompleted: true,
	FinalSynthesisStarted: true, FinalSynthesisCompleted: true,
	CoverageAnalysisStarted: true, CoverageAnalysisCompleted: true, CoverageChecked: true,
	RetrievalCycleStarted: true, RetrievalCycleCompleted: true,
}

// KnownEventType reports whether t is in the recognized taxonomy.
func KnownEventType(t string) bool {
	return knownEventTypes[t]
}
