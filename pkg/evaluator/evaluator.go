// Package evaluator scores plans, retrieval results and answers with an LLM
// judge. Callers treat evaluator errors as skipped evaluations; a verdict is
// advisory, never load-bearing for correctness.
package evaluator

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

// Dimension score below which a dimension counts as failing.
const failingScore = 0.6

// Confidence below which the judge is re-run on the escalation model.
const escalationConfidence = 0.5

// Verdict is the structured outcome of one evaluation.
type Verdict struct {
	Passed     bool               `json:"passed"`
	Scores     map[string]float64 `json:"scores,omitempty"`
	Confidence float64            `json:"confidence"`
	Reasons    []string           `json:"reasons,omitempty"`

	// FlaggedSevere marks retrieval results too poor to build on.
	FlaggedSevere bool `json:"flagged_severe,omitempty"`

	// ShouldRegenerate asks the orchestrator for a fresh plan.
	ShouldRegenerate bool `json:"should_regenerate,omitempty"`

	EvaluationSkipped bool   `json:"evaluation_skipped,omitempty"`
	SkipReason        string `json:"skip_reason,omitempty"`
}

// Accepted reports whether the orchestrator should proceed: a pass or a
// skipped evaluation both count.
func (v *Verdict) Accepted() bool {
	return v.Passed || v.EvaluationSkipped
}

// FailingDimensions returns the dimensions scoring below the failing cut,
// sorted by name.
func (v *Verdict) FailingDimensions() []string {
	var out []string
	for dim, score := range v.Scores {
		if score < failingScore {
			out = append(out, dim)
		}
	}
	sort.Strings(out)
	return out
}

// Skipped builds the verdict recorded when an evaluation could not run.
func Skipped(reason string) *Verdict {
	return &Verdict{EvaluationSkipped: true, SkipReason: reason}
}

// Evaluator runs LLM-judged evaluations, escalating to a larger model when
// the judge reports low confidence.
type Evaluator struct {
	client          llm.Client
	escalationModel string
	logger          *slog.Logger
}

// New creates an evaluator. An empty escalation model disables escalation.
func New(client llm.Client, llmCfg *config.LLMConfig, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{client: client, escalationModel: llmCfg.EscalationModel, logger: logger}
}

type rawVerdict struct {
	Passed       bool               `json:"passed"`
	Scores       map[string]float64 `json:"scores"`
	Confidence   float64            `json:"confidence"`
	Reasons      []string           `json:"reasons"`
	SevereIssues bool               `json:"severeIssues"`
	Issues       []rawIssue         `json:"issues"`
}

type rawIssue struct {
	Issue string `json:"issue"`
	Fix   string `json:"fix"`
}

const verdictSchema = `Respond with JSON only:
{
  "passed": bool,
  "scores": {"<dimension>": 0.0},
  "confidence": 0.0,
  "reasons": ["..."],
  "severeIssues": bool,
  "issues": [{"issue": "...", "fix": "..."}]
}
Scores and confidence are in [0, 1].`

// PlanVerdict extends the verdict with the evaluator's concrete issue list,
// fed back into plan regeneration.
type PlanVerdict struct {
	Verdict
	Issues []IssueFix `json:"issues,omitempty"`
}

// IssueFix pairs a plan defect with a suggested fix.
type IssueFix struct {
	Issue string `json:"issue"`
	Fix   string `json:"fix"`
}

// EvaluatePlan judges a plan before execution along completeness, ordering
// and tool-fit dimensions.
func (e *Evaluator) EvaluatePlan(ctx context.Context, plan *models.Plan, emitter *logstore.Emitter) (*PlanVerdict, error) {
	prompt := buildPlanPrompt(plan)
	system := "You evaluate research plans before execution. Score the dimensions " +
		"completeness, ordering and tool_fit. A plan passes when it would plausibly " +
		"answer the query end to end. " + verdictSchema

	raw, err := e.judge(ctx, "plan", system, prompt, emitter, logstore.Ref{PlanID: plan.ID})
	if err != nil {
		return nil, err
	}
	verdict := &PlanVerdict{Verdict: toVerdict(raw)}
	verdict.ShouldRegenerate = !verdict.Passed
	for _, issue := range raw.Issues {
		verdict.Issues = append(verdict.Issues, IssueFix{Issue: issue.Issue, Fix: issue.Fix})
	}
	return verdict, nil
}

// EvaluateRetrieval judges gathered search results for relevance and breadth.
func (e *Evaluator) EvaluateRetrieval(ctx context.Context, query string, results []models.SearchResult, emitter *logstore.Emitter) (*Verdict, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Research query: %s\n\nRetrieved results:\n", query)
	for _, r := range results {
		fmt.Fprintf(&b, "- %s (%s, score %.2f)\n  %s\n", r.Title, r.URL, r.Score, truncate(r.Content, 200))
	}
	system := "You evaluate retrieved search results against a research query. Score the " +
		"dimensions relevance, breadth and credibility. Set severeIssues when the results " +
		"cannot support any useful answer. " + verdictSchema

	raw, err := e.judge(ctx, "retrieval", system, b.String(), emitter, logstore.Ref{})
	if err != nil {
		return nil, err
	}
	verdict := toVerdict(raw)
	verdict.FlaggedSevere = raw.SevereIssues
	return &verdict, nil
}

// EvaluateAnswer judges the final answer. Best-effort; callers swallow errors.
func (e *Evaluator) EvaluateAnswer(ctx context.Context, query, answer string, sources []models.Source, emitter *logstore.Emitter) (*Verdict, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Research query: %s\n\nAnswer:\n%s\n", query, answer)
	if len(sources) > 0 {
		b.WriteString("\nSources:\n")
		for _, s := range sources {
			fmt.Fprintf(&b, "- %s\n", s.URL)
		}
	}
	system := "You evaluate finished research answers. Score the dimensions accuracy, " +
		"completeness and grounding (claims supported by the listed sources). " + verdictSchema

	raw, err := e.judge(ctx, "answer", system, b.String(), emitter, logstore.Ref{})
	if err != nil {
		return nil, err
	}
	verdict := toVerdict(raw)
	return &verdict, nil
}

// judge runs the evaluation turn, escalating once when the configured large
// model exists and the first verdict's confidence is low.
func (e *Evaluator) judge(ctx context.Context, kind, system, prompt string, emitter *logstore.Emitter, ref logstore.Ref) (*rawVerdict, error) {
	if err := emitter.Emit(ctx, events.EvaluationStarted, ref, map[string]any{"kind": kind}); err != nil {
		return nil, err
	}

	raw, err := e.judgeOnce(ctx, system, prompt, "")
	if err == nil && raw.Confidence < escalationConfidence && e.escalationModel != "" {
		e.logger.Info("escalating evaluation to larger model",
			"kind", kind, "confidence", raw.Confidence, "model", e.escalationModel)
		if escalated, escErr := e.judgeOnce(ctx, system, prompt, e.escalationModel); escErr == nil {
			raw = escalated
		}
	}
	if err != nil {
		return nil, err
	}

	if emitErr := emitter.Emit(ctx, events.EvaluationCompleted, ref, map[string]any{
		"kind":       kind,
		"passed":     raw.Passed,
		"confidence": raw.Confidence,
		"scores":     raw.Scores,
	}); emitErr != nil {
		return nil, emitErr
	}
	return raw, nil
}

func (e *Evaluator) judgeOnce(ctx context.Context, system, prompt, model string) (*rawVerdict, error) {
	resp, err := e.client.Chat(ctx, &llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: prompt},
		},
		Model: model,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluation turn failed: %w", err)
	}
	var raw rawVerdict
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Message.Content)), &raw); err != nil {
		return nil, fmt.Errorf("evaluation response is not valid JSON: %w", err)
	}
	return &raw, nil
}

func toVerdict(raw *rawVerdict) Verdict {
	return Verdict{
		Passed:     raw.Passed,
		Scores:     raw.Scores,
		Confidence: raw.Confidence,
		Reasons:    raw.Reasons,
	}
}

func buildPlanPrompt(plan *models.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research query: %s\n\nPlan:\n", plan.Query)
	for _, ph := range plan.Phases {
		fmt.Fprintf(&b, "Phase %d: %s (%s)\n", ph.Order+1, ph.Name, ph.Status)
		for _, s := range ph.Steps {
			fmt.Fprintf(&b, "  - %s %v", s.ToolName, s.Config)
			if len(s.Dependencies) > 0 {
				fmt.Fprintf(&b, " after %s", strings.Join(s.Dependencies, ", "))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
