package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	readability "github.com/go-shiori/go-readability"

	"github.com/codeready-toolchain/seeker/pkg/config"
	"github.com/codeready-toolchain/seeker/pkg/models"
)

// WebFetch downloads a page, extracts the readable article and converts it to
// markdown. Output is text.
type WebFetch struct {
	httpClient *http.Client
	maxBytes   int64
	converter  *md.Converter
	cache      *ResultCache
}

// NewWebFetch creates the fetch executor with the configured timeout and
// response size cap.
func NewWebFetch(cfg *config.ToolsConfig, cache *ResultCache) *WebFetch {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &WebFetch{
		httpClient: &http.Client{Timeout: cfg.FetchTimeout},
		maxBytes:   cfg.FetchMaxBytes,
		converter:  converter,
		cache:      cache,
	}
}

// Execute fetches one URL. The extracted markdown is cached keyed by the
// step config.
func (f *WebFetch) Execute(ctx context.Context, step *models.Step) (*Result, error) {
	rawURL, _ := step.Config["url"].(string)
	if rawURL == "" {
		return nil, fmt.Errorf("web_fetch requires a non-empty url")
	}
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("web_fetch url %q is invalid: %w", rawURL, err)
	}

	cacheKey := f.cache.Key("web_fetch", step.Config)
	var cached string
	if f.cache.Get(ctx, cacheKey, &cached) {
		return &Result{Output: cached, Metadata: map[string]any{"cached": true, "url": rawURL}}, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "seeker-research-bot/1.0")

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch of %s failed: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch of %s returned %d", rawURL, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, f.maxBytes)
	article, err := readability.FromReader(body, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to extract article from %s: %w", rawURL, err)
	}

	markdown, err := f.converter.ConvertString(article.Content)
	if err != nil {
		// Fall back to the plain text extraction.
		markdown = article.TextContent
	}
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		markdown = strings.TrimSpace(article.TextContent)
	}

	output := markdown
	if article.Title != "" {
		output = "# " + article.Title + "\n\n" + markdown
	}

	f.cache.Set(ctx, cacheKey, output)
	return &Result{
		Output:   output,
		Metadata: map[string]any{"url": rawURL, "title": article.Title},
	}, nil
}
