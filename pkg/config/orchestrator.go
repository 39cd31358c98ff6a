package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// OrchestratorConfig tunes the planning and execution loops. Every knob has a
// matching environment variable named after the option it controls.
type OrchestratorConfig struct {
	// MaxPlanAttempts caps evaluation-driven plan regeneration.
	MaxPlanAttempts int `yaml:"max_plan_attempts"`

	// MaxConcurrentSubQueries bounds sub-query fan-out within one
	// decomposition wave. This cap bounds LLM rate-limit pressure.
	MaxConcurrentSubQueries int `yaml:"max_concurrent_subqueries"`

	// CoverageThreshold is the overall coverage at which iterative
	// retrieval considers the answer complete.
	CoverageThreshold float64 `yaml:"coverage_threshold"`

	// MinConfidence is the per-aspect confidence above which an aspect
	// counts as covered.
	MinConfidence float64 `yaml:"min_confidence"`

	// MinOutputLength is the shortest string output the result extractor
	// accepts as a phase answer when no synthesis output exists.
	MinOutputLength int `yaml:"min_output_length"`

	// PlannerMaxIterations caps the planning tool-call loop.
	PlannerMaxIterations int `yaml:"planner_max_iterations"`

	// CreatePlanMaxAttempts is the runaway guard on create_plan calls.
	CreatePlanMaxAttempts int `yaml:"create_plan_max_attempts"`

	// FinalizeAutoRecoveryThreshold is the number of consecutive failed
	// finalize_plan calls after which empty phases are auto-populated.
	FinalizeAutoRecoveryThreshold int `yaml:"finalize_auto_recovery_threshold"`

	// MaxRetrievalCycles caps iterative retrieval.
	MaxRetrievalCycles int `yaml:"max_retrieval_cycles"`

	// ReflectionIterationTimeout is the soft timeout for one reflection pass.
	ReflectionIterationTimeout time.Duration `yaml:"reflection_iteration_timeout"`
}

// DefaultOrchestratorConfig returns the built-in orchestration defaults.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	c := &OrchestratorConfig{}
	c.applyDefaults()
	return c
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.MaxPlanAttempts == 0 {
		c.MaxPlanAttempts = 3
	}
	if c.MaxConcurrentSubQueries == 0 {
		c.MaxConcurrentSubQueries = 2
	}
	if c.CoverageThreshold == 0 {
		c.CoverageThreshold = 0.85
	}
	if c.MinConfidence == 0 {
		c.MinConfidence = 0.7
	}
	if c.MinOutputLength == 0 {
		c.MinOutputLength = 50
	}
	if c.PlannerMaxIterations == 0 {
		c.PlannerMaxIterations = 20
	}
	if c.CreatePlanMaxAttempts == 0 {
		c.CreatePlanMaxAttempts = 3
	}
	if c.FinalizeAutoRecoveryThreshold == 0 {
		c.FinalizeAutoRecoveryThreshold = 2
	}
	if c.MaxRetrievalCycles == 0 {
		c.MaxRetrievalCycles = 2
	}
	if c.ReflectionIterationTimeout == 0 {
		c.ReflectionIterationTimeout = 60 * time.Second
	}
}

func (c *OrchestratorConfig) applyEnvOverrides() {
	overrideInt(&c.MaxPlanAttempts, "MAX_PLAN_ATTEMPTS")
	overrideInt(&c.MaxConcurrentSubQueries, "MAX_CONCURRENT_SUBQUERIES")
	overrideFloat(&c.CoverageThreshold, "COVERAGE_THRESHOLD")
	overrideFloat(&c.MinConfidence, "MIN_CONFIDENCE")
	overrideInt(&c.MinOutputLength, "MIN_OUTPUT_LENGTH")
	overrideInt(&c.PlannerMaxIterations, "PLANNER_MAX_ITERATIONS")
	overrideInt(&c.CreatePlanMaxAttempts, "CREATE_PLAN_MAX_ATTEMPTS")
	overrideInt(&c.FinalizeAutoRecoveryThreshold, "FINALIZE_AUTO_RECOVERY_THRESHOLD")
	overrideInt(&c.MaxRetrievalCycles, "MAX_RETRIEVAL_CYCLES")
}

// Validate rejects values that would stall or runaway the loops.
func (c *OrchestratorConfig) Validate() error {
	if c.MaxConcurrentSubQueries < 1 {
		return fmt.Errorf("max_concurrent_subqueries must be >= 1")
	}
	if c.CoverageThreshold <= 0 || c.CoverageThreshold > 1 {
		return fmt.Errorf("coverage_threshold must be in (0, 1]")
	}
	if c.PlannerMaxIterations < 1 {
		return fmt.Errorf("planner_max_iterations must be >= 1")
	}
	return nil
}

func overrideInt(dst *int, name string) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func overrideFloat(dst *float64, name string) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
