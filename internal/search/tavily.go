// Package search provides web search for the agent via the Tavily API.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mymeta/agent/internal/httpkit"
)

const defaultEndpoint = "https://api.tavily.com/search"

// Result is a single search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Response is the outcome of one search: an optional synthesized
// answer plus the ranked results.
type Response struct {
	Answer  string   `json:"answer,omitempty"`
	Results []Result `json:"results"`
}

// Client calls the Tavily search API.
type Client struct {
	apiKey   string
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the API endpoint, mainly for tests.
func WithEndpoint(url string) Option {
	return func(c *Client) { c.endpoint = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a Tavily client.
func NewClient(apiKey string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		http:     httpkit.NewClient(httpkit.WithTimeout(20 * time.Second)),
		logger:   logger.With("component", "search"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type searchRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results,omitempty"`
	SearchDepth   string `json:"search_depth,omitempty"`
	IncludeAnswer bool   `json:"include_answer"`
}

// Search runs one query. maxResults <= 0 uses the API default.
func (c *Client) Search(ctx context.Context, query string, maxResults int) (*Response, error) {
	if query == "" {
		return nil, fmt.Errorf("empty search query")
	}

	body, err := json.Marshal(searchRequest{
		APIKey:        c.apiKey,
		Query:         query,
		MaxResults:    maxResults,
		SearchDepth:   "basic",
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := httpkit.ReadErrorBody(resp.Body, 2048)
		return nil, fmt.Errorf("tavily returned status %d: %s", resp.StatusCode, msg)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode tavily response: %w", err)
	}

	c.logger.Debug("search completed", "query", query, "results", len(out.Results))
	return &out, nil
}
