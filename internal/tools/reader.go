package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

// PageReader turns HTML into the readable article text the agent works with.
type PageReader struct {
	UserAgent string
	Client    *http.Client
	policy    *bluemonday.Policy
}

func NewPageReader() *PageReader {
	return &PageReader{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36",
		Client:    &http.Client{Timeout: 30 * time.Second},
		policy:    bluemonday.StrictPolicy(),
	}
}

// Fetch downloads rawURL and extracts its main content.
func (r *PageReader) Fetch(ctx context.Context, rawURL string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", r.UserAgent)

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch URL: status code %d", resp.StatusCode)
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse article: %w", err)
	}
	return r.report(article.Title, article.Excerpt, article.TextContent, rawURL), nil
}

// Extract runs readability over HTML already loaded in the browser.
func (r *PageReader) Extract(html, pageURL string) (map[string]any, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse article: %w", err)
	}
	return r.report(article.Title, article.Excerpt, article.TextContent, pageURL), nil
}

func (r *PageReader) report(title, excerpt, text, source string) map[string]any {
	return map[string]any{
		"status":  "read",
		"url":     source,
		"title":   title,
		"excerpt": excerpt,
		"text":    truncateText(r.policy.Sanitize(text), maxPageChars),
	}
}
