// Package coverage judges how completely an answer covers its query: one LLM
// call breaks the query into aspects, then arithmetic over the per-aspect
// confidences yields the overall coverage and the follow-up retrievals.
package coverage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/codeready-toolchain/seeker/pkg/config"
	"github.com/codeready-toolchain/seeker/pkg/events"
	"github.com/codeready-toolchain/seeker/pkg/llm"
	"github.com/codeready-toolchain/seeker/pkg/logstore"
	"github.com/codeready-toolchain/seeker/pkg/models"
)

// Analyzer scores answer completeness against the query's aspects.
type Analyzer struct {
	client llm.Client
	cfg    *config.OrchestratorConfig
	logger *slog.Logger
}

// New creates a coverage analyzer.
func New(client llm.Client, cfg *config.OrchestratorConfig, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{client: client, cfg: cfg, logger: logger}
}

const analysisSystemPrompt = `You assess research answer completeness. Break the query into the distinct
aspects a complete answer must address, then judge each against the current
answer. Respond with JSON only:
{
  "aspects": [
    {"description": "...", "keywords": ["..."], "answered": bool,
     "confidence": 0.0, "supportingSources": ["url"],
     "searchQuery": "query that would close the gap", "reasoning": "..."}
  ]
}
confidence is in [0, 1] and reflects how well the answer addresses the
aspect.`

type rawAnalysis struct {
	Aspects []rawAspect `json:"aspects"`
}

type rawAspect struct {
	Description       string   `json:"description"`
	Keywords          []string `json:"keywords"`
	Answered          bool     `json:"answered"`
	Confidence        float64  `json:"confidence"`
	SupportingSources []string `json:"supportingSources"`
	SearchQuery       string   `json:"searchQuery"`
	Reasoning         string   `json:"reasoning"`
}

// Analyze runs one LLM judging turn and derives the coverage verdict.
// Overall coverage is the mean of (answered ? confidence : 0) over aspects.
func (a *Analyzer) Analyze(ctx context.Context, query, currentAnswer string, sources []models.Source, subQueries []*models.SubQuery, emitter *logstore.Emitter) (*models.CoverageResult, error) {
	if err := emitter.Emit(ctx, events.CoverageAnalysisStarted, logstore.Ref{}, map[string]any{
		"query":   query,
		"sources": len(sources),
	}); err != nil {
		return nil, err
	}

	resp, err := a.client.Chat(ctx, &llm.Request{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: analysisSystemPrompt},
		{Role: llm.RoleUser, Content: buildAnalysisPrompt(query, currentAnswer, sources, subQueries)},
	}})
	if err != nil {
		return nil, fmt.Errorf("coverage analysis turn failed: %w", err)
	}

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Message.Content)), &raw); err != nil {
		return nil, fmt.Errorf("coverage analysis response is not valid JSON: %w", err)
	}

	result := a.score(raw)

	if err := emitter.Emit(ctx, events.CoverageAnalysisCompleted, logstore.Ref{}, map[string]any{
		"overall_coverage":     result.OverallCoverage,
		"is_complete":          result.IsComplete,
		"aspects_covered":      len(result.AspectsCovered),
		"aspects_missing":      len(result.AspectsMissing),
		"suggested_retrievals": len(result.SuggestedRetrievals),
	}); err != nil {
		return nil, err
	}
	return result, nil
}

func (a *Analyzer) score(raw rawAnalysis) *models.CoverageResult {
	result := &models.CoverageResult{}
	if len(raw.Aspects) == 0 {
		return result
	}

	var sum float64
	for i, ra := range raw.Aspects {
		aspect := models.Aspect{
			ID:                fmt.Sprintf("aspect-%d", i+1),
			Description:       ra.Description,
			Keywords:          ra.Keywords,
			Answered:          ra.Answered,
			Confidence:        clamp01(ra.Confidence),
			SupportingSources: ra.SupportingSources,
		}
		if aspect.Answered {
			sum += aspect.Confidence
		}

		if aspect.Answered && aspect.Confidence >= a.cfg.MinConfidence {
			result.AspectsCovered = append(result.AspectsCovered, aspect)
		} else {
			result.AspectsMissing = append(result.AspectsMissing, aspect)
		}

		if suggestion := a.suggestRetrieval(aspect, ra); suggestion != nil {
			result.SuggestedRetrievals = append(result.SuggestedRetrievals, *suggestion)
		}
	}

	result.OverallCoverage = sum / float64(len(raw.Aspects))
	result.IsComplete = result.OverallCoverage >= a.cfg.CoverageThreshold

	sort.SliceStable(result.SuggestedRetrievals, func(i, j int) bool {
		return priorityRank(result.SuggestedRetrievals[i].Priority) < priorityRank(result.SuggestedRetrievals[j].Priority)
	})
	return result
}

// suggestRetrieval maps an under-covered aspect to a follow-up search.
// Aspects at or above the completeness threshold need nothing.
func (a *Analyzer) suggestRetrieval(aspect models.Aspect, ra rawAspect) *models.SuggestedRetrieval {
	var priority models.Priority
	switch {
	case !aspect.Answered:
		priority = models.PriorityHigh
	case aspect.Confidence < 0.4:
		priority = models.PriorityHigh
	case aspect.Confidence < a.cfg.MinConfidence:
		priority = models.PriorityMedium
	case aspect.Confidence < a.cfg.CoverageThreshold:
		priority = models.PriorityLow
	default:
		return nil
	}

	searchQuery := ra.SearchQuery
	if searchQuery == "" {
		searchQuery = aspect.Description
	}
	return &models.SuggestedRetrieval{
		Aspect:      aspect.Description,
		SearchQuery: searchQuery,
		Priority:    priority,
		Reasoning:   ra.Reasoning,
	}
}

func buildAnalysisPrompt(query, currentAnswer string, sources []models.Source, subQueries []*models.SubQuery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research query: %s\n\nCurrent answer:\n%s\n", query, currentAnswer)
	if len(subQueries) > 0 {
		b.WriteString("\nSub-questions the answer should cover:\n")
		for _, sq := range subQueries {
			fmt.Fprintf(&b, "- %s\n", sq.Text)
		}
	}
	if len(sources) > 0 {
		b.WriteString("\nSources used:\n")
		for _, s := range sources {
			fmt.Fprintf(&b, "- %s (%s)\n", s.URL, s.Relevance)
		}
	}
	return b.String()
}

func priorityRank(p models.Priority) int {
	switch p {
	case models.PriorityHigh:
		return 0
	case models.PriorityMedium:
		return 1
	default:
		return 2
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
