// Package config loads and validates seeker configuration from an optional
// YAML file plus environment variables. Environment variables always win over
// YAML values so deployments can override single knobs without editing files.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	LLM          *LLMConfig          `yaml:"llm"`
	Orchestrator *OrchestratorConfig `yaml:"orchestrator"`
	Tools        *ToolsConfig        `yaml:"tools"`
	Database     *DatabaseConfig     `yaml:"database"`
	Redis        *RedisConfig        `yaml:"redis"`
}

// Initialize loads, merges and validates configuration.
//
// Steps performed:
//  1. Read seeker.yaml from configDir (missing file is fine, defaults apply)
//  2. Expand environment variables in the YAML content
//  3. Apply per-section defaults
//  4. Apply environment variable overrides
//  5. Validate
func Initialize(configDir string) (*Config, error) {
	cfg := &Config{}

	path := filepath.Join(configDir, "seeker.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := ExpandEnv(data)
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		slog.Info("Loaded configuration file", "path", path)
	case os.IsNotExist(err):
		slog.Info("No configuration file found, using defaults", "path", path)
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LLM == nil {
		c.LLM = DefaultLLMConfig()
	} else {
		c.LLM.applyDefaults()
	}
	if c.Orchestrator == nil {
		c.Orchestrator = DefaultOrchestratorConfig()
	} else {
		c.Orchestrator.applyDefaults()
	}
	if c.Tools == nil {
		c.Tools = DefaultToolsConfig()
	} else {
		c.Tools.applyDefaults()
	}
	// Database and Redis stay nil unless configured; the engine falls back
	// to the in-memory log store and an uncached tool pipeline.
}

func (c *Config) applyEnvOverrides() {
	c.LLM.applyEnvOverrides()
	c.Orchestrator.applyEnvOverrides()
	c.Tools.applyEnvOverrides()
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		if c.Database == nil {
			c.Database = &DatabaseConfig{}
		}
		c.Database.URL = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		if c.Redis == nil {
			c.Redis = &RedisConfig{}
		}
		c.Redis.Addr = addr
	}
}

// Validate checks cross-field constraints that defaults cannot guarantee.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if c.Database != nil && c.Database.URL == "" {
		return fmt.Errorf("database: url is required when the database section is present")
	}
	return nil
}
