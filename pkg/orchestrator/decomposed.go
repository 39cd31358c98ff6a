package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/codeready-toolchain/seeker/pkg/events"
	"github.com/codeready-toolchain/seeker/pkg/llm"
	"github.com/codeready-toolchain/seeker/pkg/logstore"
	"github.com/codeready-toolchain/seeker/pkg/models"
	"github.com/codeready-toolchain/seeker/pkg/planner"
)

// dependencyAnswerLimit caps how much of a dependency's answer is inlined
// into a dependent sub-query's prompt.
const dependencyAnswerLimit = 500

// executeDecomposed fans decomposition waves out to nested research runs.
// Waves execute strictly in order; within a wave at most
// MaxConcurrentSubQueries sub-queries run at once. A failed sub-query yields
// a partial result rather than failing the session.
func (o *Orchestrator) executeDecomposed(ctx context.Context, s *session, decomposition *models.DecompositionResult) (*models.ResearchResult, error) {
	subResults := make(map[string]*models.SubQueryResult)
	var mu sync.Mutex

	sem := semaphore.NewWeighted(int64(o.cfg.MaxConcurrentSubQueries))
	for _, wave := range decomposition.ExecutionPlan {
		g, waveCtx := errgroup.WithContext(ctx)
		for _, sq := range wave {
			g.Go(func() error {
				if err := sem.Acquire(waveCtx, 1); err != nil {
					return err
				}
				defer sem.Release(1)

				mu.Lock()
				deps := dependencyAnswers(sq, subResults)
				mu.Unlock()

				sqr, err := o.runSubQuery(waveCtx, s, sq, deps)
				if err != nil {
					return err
				}
				mu.Lock()
				subResults[sq.ID] = sqr
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	answer, sources, err := o.finalSynthesis(ctx, s, decomposition, subResults)
	if err != nil {
		return nil, err
	}

	result := &models.ResearchResult{
		SessionID: s.id,
		Query:     s.query,
		Answer:    answer,
		Sources:   sources,
		Metadata: &models.ResultMetadata{
			TotalExecutionTimeMs: time.Since(s.start).Milliseconds(),
			Decomposition:        decomposition,
			SubQueryResults:      subResults,
		},
	}
	o.evaluateAnswer(ctx, s, result)
	return result, nil
}

func dependencyAnswers(sq *models.SubQuery, subResults map[string]*models.SubQueryResult) []*models.SubQueryResult {
	var deps []*models.SubQueryResult
	for _, depID := range sq.Dependencies {
		if dep, ok := subResults[depID]; ok && !dep.Failed {
			deps = append(deps, dep)
		}
	}
	return deps
}

// runSubQuery researches one sub-query in a nested working-memory slot with
// its own planner. Failures become a partial result unless the context is
// already dead, which propagates to cancel the wave.
func (o *Orchestrator) runSubQuery(ctx context.Context, s *session, sq *models.SubQuery, deps []*models.SubQueryResult) (*models.SubQueryResult, error) {
	if err := s.emitter.Emit(ctx, events.SubQueryExecutionStarted, logstore.Ref{}, map[string]any{
		"sub_query_id": sq.ID,
		"text":         sq.Text,
		"type":         string(sq.Type),
	}); err != nil {
		return nil, err
	}

	text := enrichWithDependencies(sq.Text, deps)
	sqr := &models.SubQueryResult{SubQueryID: sq.ID, Question: sq.Text}

	nested, cleanup, err := o.nestedSession(s, sq.ID, text)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if runErr := o.researchSubQuery(ctx, nested); runErr != nil {
		if ctx.Err() != nil {
			return nil, runErr
		}
		o.logger.Warn("sub-query failed", "session_id", s.id, "sub_query_id", sq.ID, "error", runErr)
		sqr.Answer = fmt.Sprintf("Failed to answer: %v", runErr)
		sqr.Failed = true
	} else {
		sqr.Answer = nested.finalOutput
		sqr.Sources = nested.sources
	}

	if err := s.emitter.Emit(ctx, events.SubQueryExecutionCompleted, logstore.Ref{}, map[string]any{
		"sub_query_id": sq.ID,
		"failed":       sqr.Failed,
		"sources":      len(sqr.Sources),
	}); err != nil {
		return nil, err
	}
	return sqr, nil
}

// nestedSession builds a child session sharing the parent's emitter but with
// its own working-memory slot and planner.
func (o *Orchestrator) nestedSession(s *session, suffix, query string) (*session, func(), error) {
	nestedID := s.id + ":" + suffix
	wm, err := o.memory.Initialize(nestedID, query)
	if err != nil {
		return nil, nil, err
	}
	nested := &session{
		id:      nestedID,
		query:   query,
		start:   time.Now(),
		emitter: s.emitter,
		wm:      wm,
		planner: planner.New(o.client, o.registry, o.cfg, s.emitter, o.logger),

		subQueryRetrievalCycles: s.subQueryRetrievalCycles,
	}
	return nested, func() { o.memory.Cleanup(nestedID) }, nil
}

// researchSubQuery runs the nested session through planning and execution,
// or through iterative retrieval when the agentic pipeline asked for it.
func (o *Orchestrator) researchSubQuery(ctx context.Context, nested *session) error {
	if nested.subQueryRetrievalCycles > 0 {
		result, err := o.runIterativeRetrieval(ctx, nested, nested.subQueryRetrievalCycles)
		if err != nil {
			return err
		}
		nested.finalOutput = result.Answer
		nested.sources = result.Sources
		return nil
	}

	plan, err := nested.planner.CreatePlan(ctx, nested.query)
	if err != nil {
		return err
	}
	if err := nested.emitter.Emit(ctx, events.PlanCreated, logstore.Ref{PlanID: plan.ID}, map[string]any{
		"plan": plan,
	}); err != nil {
		return err
	}
	return o.runPlan(ctx, nested, plan)
}

func enrichWithDependencies(text string, deps []*models.SubQueryResult) string {
	if len(deps) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString("Context from earlier research:\n")
	for _, dep := range deps {
		answer := dep.Answer
		if runes := []rune(answer); len(runes) > dependencyAnswerLimit {
			answer = string(runes[:dependencyAnswerLimit])
		}
		fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", dep.Question, answer)
	}
	b.WriteString("Question: ")
	b.WriteString(text)
	return b.String()
}

// finalSynthesis combines sub-query answers into one coherent answer with a
// single LLM call, falling back to concatenation when the call fails.
func (o *Orchestrator) finalSynthesis(ctx context.Context, s *session, decomposition *models.DecompositionResult, subResults map[string]*models.SubQueryResult) (string, []models.Source, error) {
	if err := s.emitter.Emit(ctx, events.FinalSynthesisStarted, logstore.Ref{}, map[string]any{
		"sub_queries": len(subResults),
	}); err != nil {
		return "", nil, err
	}

	ordered := orderedSubResults(decomposition, subResults)
	var sources []models.Source
	for _, sqr := range ordered {
		sources = append(sources, sqr.Sources...)
	}
	sources = DedupeSources(sources)

	answer, err := o.synthesizeSubAnswers(ctx, s.query, ordered)
	if err != nil {
		o.logger.Warn("final synthesis call failed, concatenating sub-answers",
			"session_id", s.id, "error", err)
		answer = concatSubAnswers(ordered)
	}

	if err := s.emitter.Emit(ctx, events.FinalSynthesisCompleted, logstore.Ref{}, map[string]any{
		"answer_length": len(answer),
		"sources":       len(sources),
	}); err != nil {
		return "", nil, err
	}
	return answer, sources, nil
}

func orderedSubResults(decomposition *models.DecompositionResult, subResults map[string]*models.SubQueryResult) []*models.SubQueryResult {
	bySQ := make(map[string]int, len(decomposition.SubQueries))
	for _, sq := range decomposition.SubQueries {
		bySQ[sq.ID] = sq.Order
	}
	ordered := make([]*models.SubQueryResult, 0, len(subResults))
	for _, sqr := range subResults {
		ordered = append(ordered, sqr)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return bySQ[ordered[i].SubQueryID] < bySQ[ordered[j].SubQueryID]
	})
	return ordered
}

const finalSynthesisSystemPrompt = `You combine answers to research sub-questions into one coherent, complete
answer to the original question. Preserve concrete facts and do not invent
information absent from the sub-answers.`

func (o *Orchestrator) synthesizeSubAnswers(ctx context.Context, query string, ordered []*models.SubQueryResult) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Original question: %s\n\n", query)
	for _, sqr := range ordered {
		fmt.Fprintf(&b, "Sub-question: %s\nAnswer: %s\n\n", sqr.Question, sqr.Answer)
	}
	b.WriteString("Write the final answer to the original question.")

	resp, err := o.client.Chat(ctx, &llm.Request{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: finalSynthesisSystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return "", fmt.Errorf("final synthesis returned an empty answer")
	}
	return resp.Message.Content, nil
}

func concatSubAnswers(ordered []*models.SubQueryResult) string {
	var b strings.Builder
	for _, sqr := range ordered {
		fmt.Fprintf(&b, "**%s**\n%s\n\n", sqr.Question, sqr.Answer)
	}
	return strings.TrimSpace(b.String())
}
