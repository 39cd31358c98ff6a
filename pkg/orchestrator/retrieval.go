package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/codeready-toolchain/seeker/pkg/events"
	"github.com/codeready-toolchain/seeker/pkg/llm"
	"github.com/codeready-toolchain/seeker/pkg/logstore"
	"github.com/codeready-toolchain/seeker/pkg/models"
)

// ExecuteWithIterativeRetrieval researches the query with coverage-driven
// retrieval loops: after each cycle the current answer is scored against the
// query's aspects, and the suggested follow-up searches feed the next cycle.
func (o *Orchestrator) ExecuteWithIterativeRetrieval(ctx context.Context, query, sessionID string, maxCycles int) (*models.ResearchResult, error) {
	if maxCycles <= 0 {
		maxCycles = o.cfg.MaxRetrievalCycles
	}
	return o.runSession(ctx, query, sessionID, func(ctx context.Context, s *session) (*models.ResearchResult, error) {
		return o.runIterativeRetrieval(ctx, s, maxCycles)
	})
}

// runIterativeRetrieval is the cycle loop shared by the public path and the
// agentic pipeline. Cycle 1 executes the plan's first retrieval phase; later
// cycles run the coverage analyzer's suggested searches. The loop exits on
// complete coverage, no suggestions, or the cycle cap.
func (o *Orchestrator) runIterativeRetrieval(ctx context.Context, s *session, maxCycles int) (*models.ResearchResult, error) {
	plan, err := s.planner.CreatePlan(ctx, s.query)
	if err != nil {
		return nil, err
	}
	if err := s.emitter.Emit(ctx, events.PlanCreated, logstore.Ref{PlanID: plan.ID}, map[string]any{
		"plan": plan,
	}); err != nil {
		return nil, err
	}

	retrievalPhase := firstRetrievalPhase(plan)
	var (
		sources []models.Source
		answer  string
		cov     *models.CoverageResult
		cycles  int
	)

	for cycle := 1; cycle <= maxCycles; cycle++ {
		cycles = cycle
		if err := s.emitter.Emit(ctx, events.RetrievalCycleStarted, logstore.Ref{PlanID: plan.ID}, map[string]any{
			"cycle": cycle,
		}); err != nil {
			return nil, err
		}

		if cycle == 1 {
			result, err := o.phases.Execute(ctx, plan, retrievalPhase, s.results, s.emitter)
			if err != nil {
				return nil, err
			}
			s.results = append(s.results, result.StepResults...)
			s.planner.SetPhaseResults(retrievalPhase.ID, result.StepResults)
			phaseSources, _ := ExtractResults(result, o.cfg.MinOutputLength)
			sources = DedupeSources(append(sources, phaseSources...))
		} else {
			cycleSources, err := o.runSuggestedSearches(ctx, s, plan, retrievalPhase, cov.SuggestedRetrievals)
			if err != nil {
				return nil, err
			}
			sources = DedupeSources(append(sources, cycleSources...))
		}

		regenerated, err := o.synthesizeFromSources(ctx, s.query, sources, s.results)
		if err != nil {
			o.logger.Warn("answer regeneration failed, keeping previous answer",
				"session_id", s.id, "cycle", cycle, "error", err)
		} else {
			answer = regenerated
		}

		cov, err = o.analyzer.Analyze(ctx, s.query, answer, sources, nil, s.emitter)
		if err != nil {
			o.logger.Warn("coverage analysis failed, stopping retrieval cycles",
				"session_id", s.id, "cycle", cycle, "error", err)
			cov = nil
		} else {
			if err := s.emitter.Emit(ctx, events.CoverageChecked, logstore.Ref{PlanID: plan.ID}, map[string]any{
				"cycle":            cycle,
				"overall_coverage": cov.OverallCoverage,
				"is_complete":      cov.IsComplete,
			}); err != nil {
				return nil, err
			}
		}

		reason := terminationReason(cov, cycle, maxCycles)
		data := map[string]any{
			"cycle":   cycle,
			"sources": len(sources),
		}
		if reason != "" {
			data["termination_reason"] = reason
		}
		if err := s.emitter.Emit(ctx, events.RetrievalCycleCompleted, logstore.Ref{PlanID: plan.ID}, data); err != nil {
			return nil, err
		}
		if reason != "" {
			break
		}
	}

	s.finalOutput = answer
	s.sources = sources

	result := &models.ResearchResult{
		SessionID: s.id,
		PlanID:    plan.ID,
		Query:     s.query,
		Answer:    answer,
		Sources:   sources,
		Metadata: &models.ResultMetadata{
			TotalExecutionTimeMs: time.Since(s.start).Milliseconds(),
			RetrievalCycles:      cycles,
		},
	}
	if cov != nil {
		result.Metadata.FinalCoverage = cov.OverallCoverage
	}
	return result, nil
}

// terminationReason names why the cycle loop stops, or returns "" to keep
// cycling.
func terminationReason(cov *models.CoverageResult, cycle, maxCycles int) string {
	switch {
	case cov == nil:
		return "coverage_unavailable"
	case cov.IsComplete:
		return "coverage_threshold_met"
	case len(cov.SuggestedRetrievals) == 0:
		return "no_suggestions"
	case cycle >= maxCycles:
		return "max_cycles_reached"
	default:
		return ""
	}
}

// runSuggestedSearches executes one search step per suggested retrieval,
// appended to the retrieval phase so the plan tree stays coherent.
func (o *Orchestrator) runSuggestedSearches(ctx context.Context, s *session, plan *models.Plan, phase *models.Phase, suggestions []models.SuggestedRetrieval) ([]models.Source, error) {
	var sources []models.Source
	for _, suggestion := range suggestions {
		step := &models.Step{
			ID:       models.NewStepID(),
			PhaseID:  phase.ID,
			Type:     models.StepToolCall,
			ToolName: "tavily_search",
			Config:   map[string]any{"query": suggestion.SearchQuery},
			Status:   models.StepPending,
			Order:    len(phase.Steps),
		}
		phase.Steps = append(phase.Steps, step)

		result, err := o.steps.Execute(ctx, plan, step, s.results, s.emitter)
		if err != nil {
			return nil, err
		}
		s.results = append(s.results, result)
		if result.Status != models.StepCompleted {
			o.logger.Warn("suggested search failed", "session_id", s.id,
				"query", suggestion.SearchQuery, "error", result.Error.Message)
			continue
		}
		if hits, ok := result.OutputSearchResults(); ok {
			for _, hit := range hits {
				sources = append(sources, models.Source{
					URL:       hit.URL,
					Title:     hit.Title,
					Relevance: relevanceFor(hit.Score),
				})
			}
		}
	}
	return sources, nil
}

// firstRetrievalPhase picks the plan phase to run in cycle 1, falling back
// to the first phase.
func firstRetrievalPhase(plan *models.Plan) *models.Phase {
	for _, phase := range plan.Phases {
		if isRetrievalPhase(phase.Name) {
			return phase
		}
	}
	return plan.Phases[0]
}

const sourceSynthesisSystemPrompt = `You write research answers grounded strictly in the gathered material.
Cite the sources you draw on by URL. If the material does not answer the
question, say what is missing.`

// synthesizeFromSources regenerates the answer from the current source set
// and gathered step outputs in one LLM call.
func (o *Orchestrator) synthesizeFromSources(ctx context.Context, query string, sources []models.Source, gathered []*models.StepResult) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nSources:\n", query)
	for _, src := range sources {
		fmt.Fprintf(&b, "- %s (%s, relevance %s)\n", src.URL, src.Title, src.Relevance)
	}
	if material := gatheredMaterial(gathered); material != "" {
		b.WriteString("\nGathered material:\n")
		b.WriteString(material)
	}
	b.WriteString("\nWrite the best answer supported by the sources.")

	resp, err := o.client.Chat(ctx, &llm.Request{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: sourceSynthesisSystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return "", fmt.Errorf("synthesis returned an empty answer")
	}
	return resp.Message.Content, nil
}

// gatheredMaterialLimit caps the prompt text carried from step outputs.
const gatheredMaterialLimit = 4000

func gatheredMaterial(results []*models.StepResult) string {
	var b strings.Builder
	for _, r := range results {
		if r.Status != models.StepCompleted {
			continue
		}
		if hits, ok := r.OutputSearchResults(); ok {
			for _, hit := range hits {
				if hit.Content == "" {
					continue
				}
				fmt.Fprintf(&b, "[%s] %s\n", hit.URL, hit.Content)
				if b.Len() > gatheredMaterialLimit {
					return b.String()[:gatheredMaterialLimit]
				}
			}
			continue
		}
		if text, ok := r.OutputText(); ok && text != "" {
			b.WriteString(text)
			b.WriteString("\n")
			if b.Len() > gatheredMaterialLimit {
				return b.String()[:gatheredMaterialLimit]
			}
		}
	}
	return b.String()
}
