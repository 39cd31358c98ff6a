package config

import (
	"os"
	"time"
)

// ToolsConfig tunes the built-in tool executors.
type ToolsConfig struct {
	// TavilyAPIKey authenticates the tavily_search tool. Usually supplied
	// via {{.TAVILY_API_KEY}} template expansion.
	TavilyAPIKey string `yaml:"tavily_api_key"`

	// TavilyBaseURL overrides the Tavily endpoint (tests point it at a
	// local server).
	TavilyBaseURL string `yaml:"tavily_base_url"`

	// SearchMaxResults is the default max_results for search steps.
	SearchMaxResults int `yaml:"search_max_results"`

	// FetchTimeout bounds one web_fetch request.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// FetchMaxBytes caps the response body read by web_fetch.
	FetchMaxBytes int64 `yaml:"fetch_max_bytes"`

	// CacheTTL is how long cached search/fetch results stay valid. Only
	// used when a Redis section is configured.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DefaultToolsConfig returns the built-in tool defaults.
func DefaultToolsConfig() *ToolsConfig {
	c := &ToolsConfig{}
	c.applyDefaults()
	return c
}

func (c *ToolsConfig) applyDefaults() {
	if c.TavilyBaseURL == "" {
		c.TavilyBaseURL = "https://api.tavily.com"
	}
	if c.SearchMaxResults == 0 {
		c.SearchMaxResults = 5
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.FetchMaxBytes == 0 {
		c.FetchMaxBytes = 2 << 20 // 2 MiB
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 15 * time.Minute
	}
}

func (c *ToolsConfig) applyEnvOverrides() {
	if v := os.Getenv("TAVILY_API_KEY"); v != "" {
		c.TavilyAPIKey = v
	}
}

// DatabaseConfig enables the Postgres-backed log store.
type DatabaseConfig struct {
	// URL is a pgx-compatible connection string.
	URL string `yaml:"url"`

	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
}

// RedisConfig enables the tool-result cache and the kb_lookup tool.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}
