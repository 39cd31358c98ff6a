package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/seeker/pkg/llm"
	"github.com/codeready-toolchain/seeker/pkg/models"
)

const defaultSynthesisSystemPrompt = "You are a research synthesis assistant. " +
	"Combine the provided context into a clear, well-sourced answer. " +
	"Cite the facts you use and do not invent information."

// Synthesize turns gathered context into prose via one LLM call. Output is
// text; token usage is reported for accounting.
type Synthesize struct {
	client llm.Client
}

// NewSynthesize creates the synthesis executor.
func NewSynthesize(client llm.Client) *Synthesize {
	return &Synthesize{client: client}
}

// Execute runs the synthesis prompt. Config keys: prompt (required),
// systemPrompt, query, context.
func (s *Synthesize) Execute(ctx context.Context, step *models.Step) (*Result, error) {
	prompt, _ := step.Config["prompt"].(string)
	if prompt == "" {
		return nil, fmt.Errorf("synthesize requires a non-empty prompt")
	}

	systemPrompt, _ := step.Config["systemPrompt"].(string)
	if systemPrompt == "" {
		systemPrompt = defaultSynthesisSystemPrompt
	}

	var sb strings.Builder
	if query, _ := step.Config["query"].(string); query != "" {
		fmt.Fprintf(&sb, "Research query: %s\n\n", query)
	}
	if context, _ := step.Config["context"].(string); context != "" {
		fmt.Fprintf(&sb, "Gathered context:\n%s\n\n", context)
	}
	sb.WriteString(prompt)

	resp, err := s.client.Chat(ctx, &llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: sb.String()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("synthesis call failed: %w", err)
	}

	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return nil, fmt.Errorf("synthesis returned empty output")
	}

	usage := resp.Usage
	return &Result{Output: text, TokensUsed: &usage}, nil
}
