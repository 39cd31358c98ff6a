// Package tools implements the execution tool registry and the built-in
// executors: web search, page fetch, LLM synthesis and knowledge-base lookup.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/codeready-toolchain/seeker/pkg/models"
)

// Result is the typed outcome of one tool execution. Output is text, a
// search-result sequence or another structured value depending on the tool.
type Result struct {
	Output     any
	TokensUsed *models.TokenUsage
	Metadata   map[string]any
}

// Executor runs one step's tool invocation. Executors may return errors; the
// step executor translates them into failed StepResults.
type Executor interface {
	Execute(ctx context.Context, step *models.Step) (*Result, error)
}

// ConfigValidator checks a step config before the step enters a plan. Used
// by the planner's add_step and modify_step handlers.
type ConfigValidator func(config map[string]any) error

// Registry maps tool names to executors and config validators.
type Registry struct {
	mu         sync.RWMutex
	executors  map[string]Executor
	validators map[string]ConfigValidator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		executors:  make(map[string]Executor),
		validators: make(map[string]ConfigValidator),
	}
}

// Register adds a tool. A nil validator accepts any config.
func (r *Registry) Register(name string, executor Executor, validator ConfigValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = executor
	if validator != nil {
		r.validators[name] = validator
	}
}

// Get returns the executor for name.
func (r *Registry) Get(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[name]
	return e, ok
}

// Has reports whether name is a registered tool.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the sorted catalog of registered tool names. The planner
// advertises this to the LLM.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateConfig runs the tool's config validator. Unknown tools are an
// error; tools without a validator accept anything.
func (r *Registry) ValidateConfig(name string, config map[string]any) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.executors[name]; !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	if v, ok := r.validators[name]; ok {
		return v(config)
	}
	return nil
}

// Execute dispatches the step to its tool executor.
func (r *Registry) Execute(ctx context.Context, step *models.Step) (*Result, error) {
	executor, ok := r.Get(step.ToolName)
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", step.ToolName)
	}
	return executor.Execute(ctx, step)
}

// NewDefaultRegistry wires the built-in tool set. A nil kb executor (no
// Redis configured) leaves kb_lookup unregistered.
func NewDefaultRegistry(search, fetch, synthesize, kb Executor) *Registry {
	r := NewRegistry()
	r.Register("tavily_search", search, ValidateSearchConfig)
	r.Register("web_fetch", fetch, ValidateFetchConfig)
	r.Register("synthesize", synthesize, ValidateSynthesizeConfig)
	if kb != nil {
		r.Register("kb_lookup", kb, ValidateKBLookupConfig)
	}
	return r
}

func requireString(config map[string]any, key string) error {
	v, ok := config[key]
	if !ok {
		return fmt.Errorf("config requires %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return fmt.Errorf("config %q must be a non-empty string", key)
	}
	return nil
}

// ValidateSearchConfig requires a non-empty query.
func ValidateSearchConfig(config map[string]any) error {
	return requireString(config, "query")
}

// ValidateFetchConfig requires a non-empty url.
func ValidateFetchConfig(config map[string]any) error {
	return requireString(config, "url")
}

// ValidateSynthesizeConfig requires a non-empty prompt.
func ValidateSynthesizeConfig(config map[string]any) error {
	return requireString(config, "prompt")
}

// ValidateKBLookupConfig requires a non-empty key.
func ValidateKBLookupConfig(config map[string]any) error {
	return requireString(config, "key")
}
