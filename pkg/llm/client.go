// Package llm defines the chat contract between the orchestration engine and
// an external large-language-model provider, plus adapters for Ollama, OpenAI
// and Anthropic backends. The engine embeds no model; every reasoning step is
// one Chat call carrying the full transcript.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/seeker/pkg/config"
	"github.com/codeready-toolchain/seeker/pkg/models"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in a chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that request tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-result message to the originating call.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// ToolCall is an LLM request to invoke a named tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its decoded JSON arguments.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes a tool offered to the LLM. Parameters is a JSON
// Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is one chat turn: the transcript so far plus the tool catalog.
type Request struct {
	Messages []Message
	Tools    []ToolDefinition

	// Model overrides the configured default for this call (e.g. the
	// escalation model for evaluator re-runs).
	Model string
}

// Response is the provider's reply for one chat turn.
type Response struct {
	Message       Message
	Usage         models.TokenUsage
	TotalDuration time.Duration
}

// Client is the chat contract. Implementations must honor ctx cancellation
// and apply the configured per-call timeout when the caller supplies none.
type Client interface {
	Chat(ctx context.Context, req *Request) (*Response, error)
}

// New selects a backend adapter from the configured provider.
func New(cfg *config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(cfg), nil
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg), nil
	case config.ProviderAnthropic:
		return NewAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// withTimeout applies the configured call timeout unless the caller already
// set a deadline.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
