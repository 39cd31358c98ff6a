package models

// Aspect is one facet of the query identified during coverage analysis.
type Aspect struct {
	ID                string   `json:"id"`
	Description       string   `json:"description"`
	Keywords          []string `json:"keywords,omitempty"`
	Answered          bool     `json:"answered"`
	Confidence        float64  `json:"confidence"`
	SupportingSources []string `json:"supporting_sources,omitempty"`
}

// SuggestedRetrieval proposes a follow-up search to close a coverage gap.
type SuggestedRetrieval struct {
	Aspect      string   `json:"aspect"`
	SearchQuery string   `json:"search_query"`
	Priority    Priority `json:"priority"`
	Reasoning   string   `json:"reasoning,omitempty"`
}

// CoverageResult is the coverage analyzer's assessment of the current answer.
type CoverageResult struct {
	OverallCoverage     float64              `json:"overall_coverage"`
	AspectsCovered      []Aspect             `json:"aspects_covered,omitempty"`
	AspectsMissing      []Aspect             `json:"aspects_missing,omitempty"`
	SuggestedRetrievals []SuggestedRetrieval `json:"suggested_retrievals,omitempty"`
	IsComplete          bool                 `json:"is_complete"`
}
