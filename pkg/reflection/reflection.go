// Package reflection iteratively critiques and refines a finished answer.
// Refinement is best-effort polish: failures and timeouts end the loop with
// the best answer so far rather than erroring the session.
package reflection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeready-toolchain/seeker/pkg/llm"
	"github.com/codeready-toolchain/seeker/pkg/models"
)

// Config tunes the reflect-and-refine loop.
type Config struct {
	MaxIterations           int
	MinImprovementThreshold float64
	QualityTargetThreshold  float64
	TimeoutPerIteration     time.Duration
}

// DefaultConfig returns the agentic-pipeline reflection settings.
func DefaultConfig() Config {
	return Config{
		MaxIterations:           2,
		MinImprovementThreshold: 0.05,
		QualityTargetThreshold:  0.85,
		TimeoutPerIteration:     60 * time.Second,
	}
}

// Result summarizes one reflection run.
type Result struct {
	FinalAnswer      string  `json:"final_answer"`
	Iterations       int     `json:"iterations"`
	InitialQuality   float64 `json:"initial_quality"`
	FinalQuality     float64 `json:"final_quality"`
	TotalImprovement float64 `json:"total_improvement"`
}

// Reflector runs the critique loop.
type Reflector struct {
	client llm.Client
	logger *slog.Logger
}

// New creates a reflector.
func New(client llm.Client, logger *slog.Logger) *Reflector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reflector{client: client, logger: logger}
}

const reflectionSystemPrompt = `You critique research answers and rewrite them to be more accurate, complete
and well-grounded in the listed sources. Respond with JSON only:
{"quality": 0.0, "critique": "...", "improvedAnswer": "..."}
quality scores the GIVEN answer in [0, 1]. improvedAnswer is your full
rewrite; leave it empty when the answer cannot be improved.`

type rawReflection struct {
	Quality        float64 `json:"quality"`
	Critique       string  `json:"critique"`
	ImprovedAnswer string  `json:"improvedAnswer"`
}

// Refine runs up to cfg.MaxIterations critique turns. Each turn scores the
// current answer; the loop stops at the quality target, when improvement
// stalls below the threshold, or on a per-iteration timeout.
func (r *Reflector) Refine(ctx context.Context, query, answer string, sources []models.Source, cfg Config) (*Result, error) {
	result := &Result{FinalAnswer: answer, InitialQuality: -1}

	prevQuality := -1.0
	for i := 1; i <= cfg.MaxIterations; i++ {
		iterCtx, cancel := context.WithTimeout(ctx, cfg.TimeoutPerIteration)
		raw, err := r.reflectOnce(iterCtx, query, result.FinalAnswer, sources)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				r.logger.Warn("reflection iteration timed out", "iteration", i)
				break
			}
			if i == 1 {
				return nil, err
			}
			r.logger.Warn("reflection iteration failed, keeping current answer", "iteration", i, "error", err)
			break
		}

		result.Iterations = i
		result.FinalQuality = raw.Quality
		if result.InitialQuality < 0 {
			result.InitialQuality = raw.Quality
		}

		if raw.Quality >= cfg.QualityTargetThreshold {
			break
		}
		if prevQuality >= 0 && raw.Quality-prevQuality < cfg.MinImprovementThreshold {
			break
		}
		if strings.TrimSpace(raw.ImprovedAnswer) != "" {
			result.FinalAnswer = raw.ImprovedAnswer
		}
		prevQuality = raw.Quality
	}

	if result.InitialQuality < 0 {
		result.InitialQuality = 0
	}
	result.TotalImprovement = result.FinalQuality - result.InitialQuality
	return result, nil
}

func (r *Reflector) reflectOnce(ctx context.Context, query, answer string, sources []models.Source) (*rawReflection, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Research query: %s\n\nCurrent answer:\n%s\n", query, answer)
	if len(sources) > 0 {
		b.WriteString("\nSources:\n")
		for _, s := range sources {
			fmt.Fprintf(&b, "- %s (%s)\n", s.URL, s.Title)
		}
	}

	resp, err := r.client.Chat(ctx, &llm.Request{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: reflectionSystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}})
	if err != nil {
		return nil, fmt.Errorf("reflection turn failed: %w", err)
	}

	var raw rawReflection
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Message.Content)), &raw); err != nil {
		return nil, fmt.Errorf("reflection response is not valid JSON: %w", err)
	}
	return &raw, nil
}
