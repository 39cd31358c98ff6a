package models

import "encoding/json"

// TokenUsage accounts LLM tokens for one call or an aggregate.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Add accumulates another usage record.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Prompt += other.Prompt
	u.Completion += other.Completion
	u.Total += other.Total
}

// StepError describes a step failure.
type StepError struct {
	Message string `json:"message"`

	// Kind distinguishes failure classes, e.g. "cancelled".
	Kind  string `json:"kind,omitempty"`
	Stack string `json:"stack,omitempty"`
}

// StepResult is the typed outcome of one step execution. Output is text, a
// search-result sequence or another structured value.
type StepResult struct {
	StepID     string         `json:"step_id"`
	ToolName   string         `json:"tool_name"`
	Status     StepStatus     `json:"status"`
	Input      map[string]any `json:"input,omitempty"`
	Output     any            `json:"output,omitempty"`
	Error      *StepError     `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	TokensUsed *TokenUsage    `json:"tokens_used,omitempty"`
}

// OutputText returns the output as a string when it is one.
func (r *StepResult) OutputText() (string, bool) {
	s, ok := r.Output.(string)
	return s, ok
}

// OutputSearchResults returns the output as a search-result sequence. It
// accepts both the typed slice and the []any-of-maps shape a JSON round trip
// produces.
func (r *StepResult) OutputSearchResults() ([]SearchResult, bool) {
	switch v := r.Output.(type) {
	case []SearchResult:
		return v, len(v) > 0
	case []any:
		out := make([]SearchResult, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			sr, ok := searchResultFromMap(m)
			if !ok {
				return nil, false
			}
			out = append(out, sr)
		}
		return out, len(out) > 0
	default:
		return nil, false
	}
}

func searchResultFromMap(m map[string]any) (SearchResult, bool) {
	url, ok := m["url"].(string)
	if !ok || url == "" {
		return SearchResult{}, false
	}
	sr := SearchResult{URL: url}
	sr.Title, _ = m["title"].(string)
	sr.Content, _ = m["content"].(string)
	switch s := m["score"].(type) {
	case float64:
		sr.Score = s
	case json.Number:
		if f, err := s.Float64(); err == nil {
			sr.Score = f
		}
	}
	return sr, true
}

// PhaseResult aggregates one phase's step results.
type PhaseResult struct {
	Status      PhaseStatus   `json:"status"`
	StepResults []*StepResult `json:"step_results"`
	Error       string        `json:"error,omitempty"`
}

// FirstFailed returns the first failed step result, or nil.
func (p *PhaseResult) FirstFailed() *StepResult {
	for _, r := range p.StepResults {
		if r.Status == StepFailed {
			return r
		}
	}
	return nil
}

// SearchResult is one web search hit.
type SearchResult struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Source is a cited source on the final answer.
type Source struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Relevance string `json:"relevance"` // high or medium
}

// PhaseTiming records one phase's wall time for the result metadata.
type PhaseTiming struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"duration_ms"`
}

// SubQueryResult is the outcome of one decomposed sub-query.
type SubQueryResult struct {
	SubQueryID string   `json:"sub_query_id"`
	Question   string   `json:"question"`
	Answer     string   `json:"answer"`
	Sources    []Source `json:"sources,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Failed     bool     `json:"failed,omitempty"`
}

// ResultMetadata carries execution statistics on the final result.
type ResultMetadata struct {
	TotalExecutionTimeMs int64         `json:"total_execution_time_ms"`
	Phases               []PhaseTiming `json:"phases,omitempty"`

	Decomposition   *DecompositionResult       `json:"decomposition,omitempty"`
	SubQueryResults map[string]*SubQueryResult `json:"sub_query_results,omitempty"`

	RetrievalCycles int     `json:"retrieval_cycles,omitempty"`
	FinalCoverage   float64 `json:"final_coverage,omitempty"`

	ReflectionIterations int     `json:"reflection_iterations,omitempty"`
	TotalImprovement     float64 `json:"total_improvement,omitempty"`
	UsedAgenticPipeline  bool    `json:"used_agentic_pipeline,omitempty"`
}

// ResearchResult is the final answer produced by one session.
type ResearchResult struct {
	SessionID  string          `json:"session_id"`
	PlanID     string          `json:"plan_id,omitempty"`
	Query      string          `json:"query"`
	Answer     string          `json:"answer"`
	Sources    []Source        `json:"sources,omitempty"`
	Metadata   *ResultMetadata `json:"metadata,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
}
