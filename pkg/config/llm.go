package config

import (
	"fmt"
	"os"
	"time"
)

// LLM provider identifiers accepted by LLMConfig.Provider.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// LLMConfig selects and tunes the chat backend.
type LLMConfig struct {
	// Provider selects the backend adapter: "ollama", "openai" or "anthropic".
	Provider string `yaml:"provider"`

	// Model is the default model identifier for all calls. Individual calls
	// may override it.
	Model string `yaml:"model"`

	// EscalationModel is the large-model fallback used by evaluators when
	// confidence is low. Empty disables escalation.
	EscalationModel string `yaml:"escalation_model"`

	// BaseURL overrides the provider endpoint (required for ollama,
	// optional for the SDK-backed providers).
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates SDK-backed providers. Usually supplied via
	// {{.OPENAI_API_KEY}} / {{.ANTHROPIC_API_KEY}} template expansion.
	APIKey string `yaml:"api_key"`

	// Timeout bounds a single chat call.
	Timeout time.Duration `yaml:"timeout"`

	// MaxTokens caps the completion size for providers that require it.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature is the sampling temperature passed to the provider.
	Temperature float64 `yaml:"temperature"`
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	c := &LLMConfig{}
	c.applyDefaults()
	return c
}

func (c *LLMConfig) applyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderOllama
	}
	if c.Model == "" {
		c.Model = "llama3.1"
	}
	if c.BaseURL == "" && c.Provider == ProviderOllama {
		c.BaseURL = "http://localhost:11434"
	}
	if c.Timeout == 0 {
		c.Timeout = 120 * time.Second
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
}

func (c *LLMConfig) applyEnvOverrides() {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("ESCALATION_MODEL"); v != "" {
		c.EscalationModel = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.APIKey = v
	}
}

// Validate checks provider-specific requirements.
func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case ProviderOllama:
		if c.BaseURL == "" {
			return fmt.Errorf("base_url is required for the ollama provider")
		}
	case ProviderOpenAI, ProviderAnthropic:
		if c.APIKey == "" {
			return fmt.Errorf("api_key is required for the %s provider", c.Provider)
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}
