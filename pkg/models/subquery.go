package models

import "github.com/google/uuid"

// SubQueryType classifies a decomposed sub-query.
type SubQueryType string

const (
	SubQueryFactual     SubQueryType = "factual"
	SubQueryTemporal    SubQueryType = "temporal"
	SubQueryComparative SubQueryType = "comparative"
	SubQueryCausal      SubQueryType = "causal"
	SubQueryAnalytical  SubQueryType = "analytical"
)

// Priority ranks sub-queries and suggested retrievals.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// SubQuery is one decomposed unit of a complex query. Dependencies reference
// sibling sub-query ids.
type SubQuery struct {
	ID                  string       `json:"id"`
	Text                string       `json:"text"`
	Order               int          `json:"order"`
	Dependencies        []string     `json:"dependencies,omitempty"`
	Type                SubQueryType `json:"type"`
	Priority            Priority     `json:"priority"`
	EstimatedComplexity float64      `json:"estimated_complexity,omitempty"`
}

// NewSubQueryID returns a fresh sub-query identifier.
func NewSubQueryID() string { return "sq-" + uuid.New().String() }

// DecompositionResult is the decomposer's verdict on a query. ExecutionPlan
// orders the sub-queries into dependency waves.
type DecompositionResult struct {
	OriginalQuery string        `json:"original_query"`
	IsComplex     bool          `json:"is_complex"`
	Reasoning     string        `json:"reasoning,omitempty"`
	SubQueries    []*SubQuery   `json:"sub_queries,omitempty"`
	ExecutionPlan [][]*SubQuery `json:"execution_plan,omitempty"`
}
