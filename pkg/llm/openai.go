package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/codeready-toolchain/seeker/pkg/config"
	"github.com/codeready-toolchain/seeker/pkg/models"
)

// openAIChatAPI captures the subset of the go-openai client used by the
// adapter. Satisfied by *openai.Client and by mocks in tests.
type openAIChatAPI interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient implements the chat contract via the OpenAI Chat Completions
// API.
type OpenAIClient struct {
	api         openAIChatAPI
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

// NewOpenAIClient creates an OpenAI-backed chat client.
func NewOpenAIClient(cfg *config.LLMConfig) *OpenAIClient {
	var api openAIChatAPI
	if cfg.BaseURL != "" {
		oc := openai.DefaultConfig(cfg.APIKey)
		oc.BaseURL = cfg.BaseURL
		api = openai.NewClientWithConfig(oc)
	} else {
		api = openai.NewClient(cfg.APIKey)
	}
	return &OpenAIClient{
		api:         api,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
	}
}

// Chat sends the transcript to OpenAI and returns the assistant turn.
func (c *OpenAIClient) Chat(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = c.model
	}

	request := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    encodeOpenAIMessages(req.Messages),
		Temperature: float32(c.temperature),
		MaxTokens:   c.maxTokens,
		Tools:       encodeOpenAITools(req.Tools),
	}

	start := time.Now()
	response, err := c.api.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("openai chat completion returned no choices")
	}

	choice := response.Choices[0].Message
	msg := Message{Role: RoleAssistant, Content: choice.Content}
	for _, call := range choice.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID: call.ID,
			Function: FunctionCall{
				Name:      call.Function.Name,
				Arguments: parseToolArguments(call.Function.Arguments),
			},
		})
	}

	return &Response{
		Message: msg,
		Usage: models.TokenUsage{
			Prompt:     response.Usage.PromptTokens,
			Completion: response.Usage.CompletionTokens,
			Total:      response.Usage.TotalTokens,
		},
		TotalDuration: time.Since(start),
	}, nil
}

func encodeOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Function.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func encodeOpenAITools(defs []ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		params, err := json.Marshal(def.Parameters)
		if err != nil {
			params = []byte("{}")
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return out
}

// parseToolArguments decodes the provider's JSON argument string. Malformed
// arguments surface as an empty object; the planner's validators reject the
// call with remediation guidance rather than crashing the loop.
func parseToolArguments(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}
