package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/codeready-toolchain/seeker/pkg/config"
	"github.com/codeready-toolchain/seeker/pkg/models"
)

// TavilySearch executes web searches against the Tavily API. Output is a
// sequence of search-result records.
type TavilySearch struct {
	apiKey     string
	baseURL    string
	maxResults int
	httpClient *http.Client
	cache      *ResultCache
}

// NewTavilySearch creates the search executor.
func NewTavilySearch(cfg *config.ToolsConfig, cache *ResultCache) *TavilySearch {
	return &TavilySearch{
		apiKey:     cfg.TavilyAPIKey,
		baseURL:    strings.TrimRight(cfg.TavilyBaseURL, "/"),
		maxResults: cfg.SearchMaxResults,
		httpClient: &http.Client{},
		cache:      cache,
	}
}

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		URL     string  `json:"url"`
		Title   string  `json:"title"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Execute runs one search. Results are cached keyed by the step config.
func (t *TavilySearch) Execute(ctx context.Context, step *models.Step) (*Result, error) {
	query, _ := step.Config["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("tavily_search requires a non-empty query")
	}
	maxResults := t.maxResults
	if v, ok := step.Config["max_results"].(float64); ok && int(v) > 0 {
		maxResults = int(v)
	} else if v, ok := step.Config["max_results"].(int); ok && v > 0 {
		maxResults = v
	}

	cacheKey := t.cache.Key("tavily_search", step.Config)
	var cached []models.SearchResult
	if t.cache.Get(ctx, cacheKey, &cached) {
		return &Result{Output: cached, Metadata: map[string]any{"cached": true}}, nil
	}

	payload, err := json.Marshal(tavilyRequest{
		APIKey:     t.apiKey,
		Query:      query,
		MaxResults: maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tavily search failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("tavily search returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]models.SearchResult, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		results = append(results, models.SearchResult{
			URL:     r.URL,
			Title:   r.Title,
			Content: r.Content,
			Score:   r.Score,
		})
	}

	t.cache.Set(ctx, cacheKey, results)
	return &Result{Output: results}, nil
}
