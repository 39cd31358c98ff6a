package llm

import (
	"context"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOpenAIAPI struct {
	captured openai.ChatCompletionRequest
	response openai.ChatCompletionResponse
	err      error
}

func (f *fakeOpenAIAPI) CreateChatCompletion(_ context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.captured = request
	return f.response, f.err
}

func TestOpenAIChat(t *testing.T) {
	newClient := func(api *fakeOpenAIAPI) *OpenAIClient {
		return &OpenAIClient{
			api:         api,
			model:       "gpt-4o",
			temperature: 0.1,
			maxTokens:   2048,
			timeout:     5 * time.Second,
		}
	}

	t.Run("encodes transcript and tools", func(t *testing.T) {
		api := &fakeOpenAIAPI{response: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: "assistant", Content: "answer"},
			}},
			Usage: openai.Usage{PromptTokens: 20, CompletionTokens: 5, TotalTokens: 25},
		}}
		client := newClient(api)

		resp, err := client.Chat(context.Background(), &Request{
			Messages: []Message{
				{Role: RoleSystem, Content: "be terse"},
				{Role: RoleUser, Content: "question"},
				{Role: RoleAssistant, ToolCalls: []ToolCall{{
					ID:       "call-9",
					Function: FunctionCall{Name: "tavily_search", Arguments: map[string]any{"query": "go"}},
				}}},
				{Role: RoleTool, Content: "results", ToolCallID: "call-9"},
			},
			Tools: []ToolDefinition{{
				Name:        "tavily_search",
				Description: "web search",
				Parameters:  map[string]any{"type": "object"},
			}},
		})
		require.NoError(t, err)

		require.Len(t, api.captured.Messages, 4)
		assert.Equal(t, "gpt-4o", api.captured.Model)
		assert.Equal(t, "call-9", api.captured.Messages[3].ToolCallID)
		require.Len(t, api.captured.Messages[2].ToolCalls, 1)
		assert.JSONEq(t, `{"query":"go"}`, api.captured.Messages[2].ToolCalls[0].Function.Arguments)
		require.Len(t, api.captured.Tools, 1)
		assert.Equal(t, "tavily_search", api.captured.Tools[0].Function.Name)

		assert.Equal(t, "answer", resp.Message.Content)
		assert.Equal(t, 25, resp.Usage.Total)
	})

	t.Run("decodes tool calls", func(t *testing.T) {
		api := &fakeOpenAIAPI{response: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{
					Role: "assistant",
					ToolCalls: []openai.ToolCall{{
						ID:   "call-1",
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      "finalize_plan",
							Arguments: `{"confirm":true}`,
						},
					}},
				},
			}},
		}}
		client := newClient(api)

		resp, err := client.Chat(context.Background(), &Request{
			Messages: []Message{{Role: RoleUser, Content: "finish"}},
		})
		require.NoError(t, err)
		require.Len(t, resp.Message.ToolCalls, 1)
		assert.Equal(t, "call-1", resp.Message.ToolCalls[0].ID)
		assert.Equal(t, "finalize_plan", resp.Message.ToolCalls[0].Function.Name)
		assert.Equal(t, true, resp.Message.ToolCalls[0].Function.Arguments["confirm"])
	})

	t.Run("malformed arguments decode to empty object", func(t *testing.T) {
		api := &fakeOpenAIAPI{response: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{
					Role: "assistant",
					ToolCalls: []openai.ToolCall{{
						ID:       "call-2",
						Type:     openai.ToolTypeFunction,
						Function: openai.FunctionCall{Name: "add_phase", Arguments: `{not json`},
					}},
				},
			}},
		}}
		client := newClient(api)

		resp, err := client.Chat(context.Background(), &Request{
			Messages: []Message{{Role: RoleUser, Content: "go"}},
		})
		require.NoError(t, err)
		require.Len(t, resp.Message.ToolCalls, 1)
		assert.Empty(t, resp.Message.ToolCalls[0].Function.Arguments)
	})

	t.Run("no choices is an error", func(t *testing.T) {
		api := &fakeOpenAIAPI{response: openai.ChatCompletionResponse{}}
		client := newClient(api)

		_, err := client.Chat(context.Background(), &Request{
			Messages: []Message{{Role: RoleUser, Content: "hi"}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no choices")
	})
}
