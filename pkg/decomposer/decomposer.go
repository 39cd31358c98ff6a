// Package decomposer splits complex research queries into dependency-ordered
// sub-queries via one LLM JSON turn, then arranges them into concurrent
// execution waves.
package decomposer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeready-toolchain/seeker/pkg/events"
	"github.com/codeready-toolchain/seeker/pkg/llm"
	"github.com/codeready-toolchain/seeker/pkg/logstore"
	"github.com/codeready-toolchain/seeker/pkg/models"
)

// CircularDependencyError reports sub-queries that cannot be scheduled
// because their dependencies form a cycle.
type CircularDependencyError struct {
	Remaining []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency among sub-queries: %s", strings.Join(e.Remaining, ", "))
}

// Decomposer analyzes query complexity and produces sub-query waves.
type Decomposer struct {
	client llm.Client
	logger *slog.Logger
}

// New creates a decomposer.
func New(client llm.Client, logger *slog.Logger) *Decomposer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decomposer{client: client, logger: logger}
}

// rawDecomposition is the JSON shape requested from the LLM.
type rawDecomposition struct {
	IsComplex  bool          `json:"isComplex"`
	Reasoning  string        `json:"reasoning"`
	SubQueries []rawSubQuery `json:"subQueries"`
}

type rawSubQuery struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Order        int      `json:"order"`
	Dependencies []string `json:"dependencies"`
	Type         string   `json:"type"`
	Priority     string   `json:"priority"`
	Complexity   float64  `json:"complexity"`
}

const decompositionSystemPrompt = `You analyze research queries. Respond with JSON only, no prose, matching:
{
  "isComplex": bool,
  "reasoning": "why",
  "subQueries": [
    {"id": "q1", "text": "...", "order": 1, "dependencies": ["q0"],
     "type": "factual|temporal|comparative|causal|analytical",
     "priority": "high|medium|low", "complexity": 1}
  ]
}
A query is complex when answering it requires several distinct lines of
research. Simple queries get "isComplex": false and an empty subQueries
array. Dependencies reference sub-query ids whose answers are needed first.`

// Decompose runs one LLM turn and returns the validated decomposition with
// its execution plan. Circular sub-query dependencies are a structured
// error; unknown dependency ids are treated as satisfied and logged.
func (d *Decomposer) Decompose(ctx context.Context, query string, emitter *logstore.Emitter) (*models.DecompositionResult, error) {
	if err := emitter.Emit(ctx, events.DecompositionStarted, logstore.Ref{}, map[string]any{
		"query": query,
	}); err != nil {
		return nil, err
	}

	result, err := d.decompose(ctx, query, emitter)
	if err != nil {
		if emitErr := emitter.Emit(ctx, events.DecompositionCompleted, logstore.Ref{}, map[string]any{
			"error": err.Error(),
		}); emitErr != nil {
			return nil, emitErr
		}
		return nil, err
	}

	if err := emitter.Emit(ctx, events.DecompositionCompleted, logstore.Ref{}, map[string]any{
		"is_complex":  result.IsComplex,
		"sub_queries": len(result.SubQueries),
		"waves":       len(result.ExecutionPlan),
	}); err != nil {
		return nil, err
	}
	return result, nil
}

func (d *Decomposer) decompose(ctx context.Context, query string, emitter *logstore.Emitter) (*models.DecompositionResult, error) {
	resp, err := d.client.Chat(ctx, &llm.Request{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: decompositionSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Analyze this research query:\n\n%s", query)},
	}})
	if err != nil {
		return nil, fmt.Errorf("decomposition turn failed: %w", err)
	}

	var raw rawDecomposition
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Message.Content)), &raw); err != nil {
		return nil, fmt.Errorf("decomposition response is not valid JSON: %w", err)
	}

	result := &models.DecompositionResult{
		OriginalQuery: query,
		IsComplex:     raw.IsComplex,
		Reasoning:     raw.Reasoning,
	}
	if !raw.IsComplex || len(raw.SubQueries) == 0 {
		result.IsComplex = false
		return result, nil
	}

	// Durable ids replace whatever labels the model invented; dependencies
	// are remapped through the same table. Every entry gets its own durable
	// id even when the model reuses a label, so id uniqueness survives a
	// sloppy reply; dependency references resolve to the first occurrence.
	ids := make([]string, len(raw.SubQueries))
	idMap := make(map[string]string, len(raw.SubQueries))
	for i, rsq := range raw.SubQueries {
		ids[i] = models.NewSubQueryID()
		if rsq.ID == "" {
			continue
		}
		if _, dup := idMap[rsq.ID]; dup {
			d.logger.Warn("model reused a sub-query id, assigning a fresh one", "raw_id", rsq.ID)
			continue
		}
		idMap[rsq.ID] = ids[i]
	}
	for i, rsq := range raw.SubQueries {
		if strings.TrimSpace(rsq.Text) == "" {
			return nil, fmt.Errorf("sub-query %d has empty text", i)
		}
		id := ids[i]
		deps := make([]string, 0, len(rsq.Dependencies))
		for _, dep := range rsq.Dependencies {
			if mapped, ok := idMap[dep]; ok {
				deps = append(deps, mapped)
			} else {
				d.logger.Warn("sub-query references unknown dependency, treating as satisfied",
					"sub_query", id, "dependency", dep)
			}
		}
		sq := &models.SubQuery{
			ID:                  id,
			Text:                rsq.Text,
			Order:               rsq.Order,
			Dependencies:        deps,
			Type:                parseSubQueryType(rsq.Type),
			Priority:            parsePriority(rsq.Priority),
			EstimatedComplexity: clampComplexity(rsq.Complexity),
		}
		result.SubQueries = append(result.SubQueries, sq)

		if err := emitter.Emit(ctx, events.SubQueryIdentified, logstore.Ref{}, map[string]any{
			"sub_query_id": sq.ID,
			"text":         sq.Text,
			"type":         sq.Type,
			"priority":     sq.Priority,
			"dependencies": sq.Dependencies,
		}); err != nil {
			return nil, err
		}
	}

	plan, err := buildExecutionPlan(result.SubQueries)
	if err != nil {
		return nil, err
	}
	result.ExecutionPlan = plan
	return result, nil
}

// buildExecutionPlan peels ready sub-queries into waves. A wave that would
// be empty while sub-queries remain means a cycle.
func buildExecutionPlan(subQueries []*models.SubQuery) ([][]*models.SubQuery, error) {
	known := make(map[string]bool, len(subQueries))
	for _, sq := range subQueries {
		known[sq.ID] = true
	}

	done := make(map[string]bool, len(subQueries))
	remaining := append([]*models.SubQuery{}, subQueries...)
	var waves [][]*models.SubQuery

	for len(remaining) > 0 {
		var wave []*models.SubQuery
		var next []*models.SubQuery
		for _, sq := range remaining {
			ready := true
			for _, dep := range sq.Dependencies {
				if known[dep] && !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, sq)
			} else {
				next = append(next, sq)
			}
		}
		if len(wave) == 0 {
			ids := make([]string, len(next))
			for i, sq := range next {
				ids[i] = sq.ID
			}
			return nil, &CircularDependencyError{Remaining: ids}
		}
		for _, sq := range wave {
			done[sq.ID] = true
		}
		waves = append(waves, wave)
		remaining = next
	}
	return waves, nil
}

func parseSubQueryType(s string) models.SubQueryType {
	switch models.SubQueryType(s) {
	case models.SubQueryTemporal, models.SubQueryComparative, models.SubQueryCausal, models.SubQueryAnalytical:
		return models.SubQueryType(s)
	default:
		return models.SubQueryFactual
	}
}

// clampComplexity forces the estimate onto the 1..5 scale. Missing or
// negative values count as minimal complexity.
func clampComplexity(f float64) float64 {
	if f < 1 {
		return 1
	}
	if f > 5 {
		return 5
	}
	return f
}

func parsePriority(s string) models.Priority {
	switch models.Priority(s) {
	case models.PriorityHigh, models.PriorityLow:
		return models.Priority(s)
	default:
		return models.PriorityMedium
	}
}
