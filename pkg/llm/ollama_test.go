package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/seeker/pkg/config"
)

func ollamaTestClient(t *testing.T, handler http.HandlerFunc) *OllamaClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOllamaClient(&config.LLMConfig{
		Provider:    config.ProviderOllama,
		Model:       "llama3.1",
		BaseURL:     server.URL,
		Timeout:     5 * time.Second,
		Temperature: 0.2,
		MaxTokens:   1024,
	})
}

func TestOllamaChat(t *testing.T) {
	t.Run("text response with usage", func(t *testing.T) {
		var captured ollamaChatRequest
		client := ollamaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/chat", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"message":           map[string]any{"role": "assistant", "content": "hello"},
				"prompt_eval_count": 12,
				"eval_count":        7,
				"total_duration":    1500000000,
			})
		})

		resp, err := client.Chat(context.Background(), &Request{
			Messages: []Message{
				{Role: RoleSystem, Content: "you are a researcher"},
				{Role: RoleUser, Content: "hi"},
			},
		})
		require.NoError(t, err)

		assert.Equal(t, "llama3.1", captured.Model)
		assert.False(t, captured.Stream)
		assert.Len(t, captured.Messages, 2)
		assert.Equal(t, "hello", resp.Message.Content)
		assert.Equal(t, RoleAssistant, resp.Message.Role)
		assert.Equal(t, 12, resp.Usage.Prompt)
		assert.Equal(t, 7, resp.Usage.Completion)
		assert.Equal(t, 19, resp.Usage.Total)
		assert.Equal(t, 1500*time.Millisecond, resp.TotalDuration)
	})

	t.Run("tool calls get synthesized ids", func(t *testing.T) {
		client := ollamaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"message": map[string]any{
					"role":    "assistant",
					"content": "",
					"tool_calls": []map[string]any{
						{"function": map[string]any{
							"name":      "create_plan",
							"arguments": map[string]any{"name": "Research plan"},
						}},
						{"function": map[string]any{
							"name":      "add_phase",
							"arguments": map[string]any{"name": "search"},
						}},
					},
				},
			})
		})

		resp, err := client.Chat(context.Background(), &Request{
			Messages: []Message{{Role: RoleUser, Content: "plan it"}},
			Tools: []ToolDefinition{
				{Name: "create_plan", Description: "create a plan", Parameters: map[string]any{"type": "object"}},
			},
		})
		require.NoError(t, err)
		require.Len(t, resp.Message.ToolCalls, 2)

		first, second := resp.Message.ToolCalls[0], resp.Message.ToolCalls[1]
		assert.Equal(t, "create_plan", first.Function.Name)
		assert.Equal(t, "Research plan", first.Function.Arguments["name"])
		assert.NotEmpty(t, first.ID)
		assert.NotEmpty(t, second.ID)
		assert.NotEqual(t, first.ID, second.ID)
	})

	t.Run("tool result round trip keeps call id", func(t *testing.T) {
		var captured ollamaChatRequest
		client := ollamaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"message": map[string]any{"role": "assistant", "content": "done"},
			})
		})

		_, err := client.Chat(context.Background(), &Request{
			Messages: []Message{
				{Role: RoleUser, Content: "plan it"},
				{Role: RoleAssistant, ToolCalls: []ToolCall{{
					ID:       "call-1",
					Function: FunctionCall{Name: "create_plan", Arguments: map[string]any{"name": "p"}},
				}}},
				{Role: RoleTool, Content: `{"status":"ok"}`, ToolCallID: "call-1", ToolName: "create_plan"},
			},
		})
		require.NoError(t, err)

		require.Len(t, captured.Messages, 3)
		assert.Equal(t, "call-1", captured.Messages[2].ToolCallID)
		assert.Equal(t, "create_plan", captured.Messages[2].ToolName)
		require.Len(t, captured.Messages[1].ToolCalls, 1)
		assert.Equal(t, "create_plan", captured.Messages[1].ToolCalls[0].Function.Name)
	})

	t.Run("non-200 surfaces as error", func(t *testing.T) {
		client := ollamaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		})

		_, err := client.Chat(context.Background(), &Request{
			Messages: []Message{{Role: RoleUser, Content: "hi"}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
		assert.Contains(t, err.Error(), "model not found")
	})

	t.Run("request model override wins", func(t *testing.T) {
		var captured ollamaChatRequest
		client := ollamaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"message": map[string]any{"role": "assistant", "content": "ok"},
			})
		})

		_, err := client.Chat(context.Background(), &Request{
			Messages: []Message{{Role: RoleUser, Content: "hi"}},
			Model:    "qwen2.5:32b",
		})
		require.NoError(t, err)
		assert.Equal(t, "qwen2.5:32b", captured.Model)
	})
}

func TestNewSelectsProvider(t *testing.T) {
	t.Run("ollama", func(t *testing.T) {
		client, err := New(&config.LLMConfig{Provider: config.ProviderOllama, Model: "llama3.1", BaseURL: "http://localhost:11434"})
		require.NoError(t, err)
		assert.IsType(t, &OllamaClient{}, client)
	})

	t.Run("openai", func(t *testing.T) {
		client, err := New(&config.LLMConfig{Provider: config.ProviderOpenAI, Model: "gpt-4o", APIKey: "sk-test"})
		require.NoError(t, err)
		assert.IsType(t, &OpenAIClient{}, client)
	})

	t.Run("anthropic", func(t *testing.T) {
		client, err := New(&config.LLMConfig{Provider: config.ProviderAnthropic, Model: "claude-sonnet-4-5", APIKey: "sk-ant-test"})
		require.NoError(t, err)
		assert.IsType(t, &AnthropicClient{}, client)
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		_, err := New(&config.LLMConfig{Provider: "bedrock"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown LLM provider")
	})
}
