package orchestrator

import (
	"sort"
	"strings"

	"github.com/codeready-toolchain/seeker/pkg/models"
)

// ExtractResults pulls (sources, output) from a phase result in one pass.
// Sources are deduplicated by URL keeping the higher relevance; output
// prefers synthesis text, then the first string output longer than
// minOutputLength.
func ExtractResults(result *models.PhaseResult, minOutputLength int) ([]models.Source, string) {
	byURL := make(map[string]models.Source)
	var order []string
	for _, sr := range result.StepResults {
		results, ok := sr.OutputSearchResults()
		if !ok {
			continue
		}
		for _, hit := range results {
			source := models.Source{
				URL:       hit.URL,
				Title:     hit.Title,
				Relevance: relevanceFor(hit.Score),
			}
			existing, seen := byURL[hit.URL]
			if !seen {
				byURL[hit.URL] = source
				order = append(order, hit.URL)
				continue
			}
			if existing.Relevance != "high" && source.Relevance == "high" {
				byURL[hit.URL] = source
			}
		}
	}

	sources := make([]models.Source, 0, len(order))
	for _, url := range order {
		sources = append(sources, byURL[url])
	}
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Relevance == "high" && sources[j].Relevance != "high"
	})

	return sources, extractOutput(result, minOutputLength)
}

func extractOutput(result *models.PhaseResult, minOutputLength int) string {
	for _, sr := range result.StepResults {
		tool := strings.ToLower(sr.ToolName)
		if strings.Contains(tool, "synth") || tool == "llm" {
			if text, ok := sr.OutputText(); ok && text != "" {
				return text
			}
		}
	}
	for _, sr := range result.StepResults {
		if text, ok := sr.OutputText(); ok && len(text) > minOutputLength {
			return text
		}
	}
	return ""
}

func relevanceFor(score float64) string {
	if score > 0.7 {
		return "high"
	}
	return "medium"
}

// DedupeSources removes duplicate URLs keeping the first (higher-relevance
// wins when a later duplicate upgrades it) and preserves high-first order.
func DedupeSources(sources []models.Source) []models.Source {
	byURL := make(map[string]int)
	out := make([]models.Source, 0, len(sources))
	for _, s := range sources {
		if idx, seen := byURL[s.URL]; seen {
			if out[idx].Relevance != "high" && s.Relevance == "high" {
				out[idx] = s
			}
			continue
		}
		byURL[s.URL] = len(out)
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Relevance == "high" && out[j].Relevance != "high"
	})
	return out
}

// ExtractSearchQueries enumerates the plan's search steps with a non-empty
// config query.
func ExtractSearchQueries(plan *models.Plan) []string {
	var queries []string
	for _, phase := range plan.Phases {
		for _, step := range phase.Steps {
			if step.ToolName != "tavily_search" && step.ToolName != "web_search" {
				continue
			}
			if q, ok := step.Config["query"].(string); ok && q != "" {
				queries = append(queries, q)
			}
		}
	}
	return queries
}

// retrievalPhaseTerms mark a phase as retrieval for the evaluation gate.
var retrievalPhaseTerms = []string{"search", "fetch", "gather", "retriev"}

func isRetrievalPhase(name string) bool {
	lower := strings.ToLower(name)
	for _, term := range retrievalPhaseTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// collectSearchResults flattens every search-result output in a phase result.
func collectSearchResults(result *models.PhaseResult) []models.SearchResult {
	var out []models.SearchResult
	for _, sr := range result.StepResults {
		if results, ok := sr.OutputSearchResults(); ok {
			out = append(out, results...)
		}
	}
	return out
}
