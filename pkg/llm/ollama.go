package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/seeker/pkg/config"
	"github.com/codeready-toolchain/seeker/pkg/models"
)

// OllamaClient implements the chat contract against Ollama's /api/chat
// endpoint. The wire format maps one-to-one onto the contract (tool_calls
// with decoded argument objects, prompt_eval_count / eval_count /
// total_duration usage fields), so this adapter is a thin JSON client.
type OllamaClient struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	httpClient  *http.Client
}

// NewOllamaClient creates an Ollama-backed chat client.
func NewOllamaClient(cfg *config.LLMConfig) *OllamaClient {
	return &OllamaClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		httpClient:  &http.Client{},
	}
}

type ollamaMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolName   string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	TotalDuration   int64         `json:"total_duration"` // nanoseconds
}

// Chat sends the transcript to Ollama and returns the assistant turn.
func (c *OllamaClient) Chat(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = c.model
	}

	body := ollamaChatRequest{
		Model:    model,
		Messages: encodeOllamaMessages(req.Messages),
		Tools:    encodeOllamaTools(req.Tools),
		Stream:   false,
	}
	if c.temperature > 0 || c.maxTokens > 0 {
		body.Options = map[string]any{}
		if c.temperature > 0 {
			body.Options["temperature"] = c.temperature
		}
		if c.maxTokens > 0 {
			body.Options["num_predict"] = c.maxTokens
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama chat request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama chat returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var chat ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}

	msg := Message{
		Role:    RoleAssistant,
		Content: chat.Message.Content,
	}
	for _, tc := range chat.Message.ToolCalls {
		// Ollama does not assign tool-call ids; synthesize them so tool
		// result messages can reference their originating call.
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID: "call-" + uuid.New().String(),
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}

	return &Response{
		Message: msg,
		Usage: models.TokenUsage{
			Prompt:     chat.PromptEvalCount,
			Completion: chat.EvalCount,
			Total:      chat.PromptEvalCount + chat.EvalCount,
		},
		TotalDuration: time.Duration(chat.TotalDuration),
	}, nil
}

func encodeOllamaMessages(msgs []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(msgs))
	for _, m := range msgs {
		om := ollamaMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			ToolName:   m.ToolName,
		}
		for _, tc := range m.ToolCalls {
			var otc ollamaToolCall
			otc.Function.Name = tc.Function.Name
			otc.Function.Arguments = tc.Function.Arguments
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out = append(out, om)
	}
	return out
}

func encodeOllamaTools(defs []ToolDefinition) []ollamaTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]ollamaTool, 0, len(defs))
	for _, def := range defs {
		var t ollamaTool
		t.Type = "function"
		t.Function.Name = def.Name
		t.Function.Description = def.Description
		t.Function.Parameters = def.Parameters
		out = append(out, t)
	}
	return out
}
