package orchestrator

import (
	"context"

	"github.com/codeready-toolchain/seeker/pkg/models"
	"github.com/codeready-toolchain/seeker/pkg/reflection"
)

// OrchestrateAgenticResearch runs the full agentic pipeline: decomposition,
// iterative retrieval (per sub-query for complex queries), then a reflection
// pass over the final answer.
func (o *Orchestrator) OrchestrateAgenticResearch(ctx context.Context, query, sessionID string) (*models.ResearchResult, error) {
	return o.runSession(ctx, query, sessionID, func(ctx context.Context, s *session) (*models.ResearchResult, error) {
		decomposition, err := o.decomposer.Decompose(ctx, s.query, s.emitter)
		if err != nil {
			return nil, err
		}
		s.wm.SetScratchPadValue("decomposition", decomposition)

		var result *models.ResearchResult
		if decomposition.IsComplex {
			// One retrieval cycle per sub-query keeps the fan-out bounded;
			// reflection compensates at the end.
			s.subQueryRetrievalCycles = 1
			result, err = o.executeDecomposed(ctx, s, decomposition)
		} else {
			result, err = o.runIterativeRetrieval(ctx, s, o.cfg.MaxRetrievalCycles)
		}
		if err != nil {
			return nil, err
		}

		o.reflect(ctx, s, result)
		result.Metadata.UsedAgenticPipeline = true
		return result, nil
	})
}

// reflect refines the answer in place; reflection failures keep the
// unrefined answer.
func (o *Orchestrator) reflect(ctx context.Context, s *session, result *models.ResearchResult) {
	cfg := reflection.DefaultConfig()
	if o.cfg.ReflectionIterationTimeout > 0 {
		cfg.TimeoutPerIteration = o.cfg.ReflectionIterationTimeout
	}

	refined, err := o.reflector.Refine(ctx, s.query, result.Answer, result.Sources, cfg)
	if err != nil {
		o.logger.Warn("reflection failed, keeping unrefined answer", "session_id", s.id, "error", err)
		return
	}
	if refined.FinalAnswer != "" {
		result.Answer = refined.FinalAnswer
	}
	result.Metadata.ReflectionIterations = refined.Iterations
	result.Metadata.TotalImprovement = refined.TotalImprovement
}
