// Package fetch retrieves web pages and reduces them to readable text
// for the agent.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mymeta/agent/internal/httpkit"
)

// maxBodyBytes caps how much of a page we read. Pages beyond this are
// truncated, not rejected.
const maxBodyBytes = 2 << 20

// Page is the extracted form of a fetched document.
type Page struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`

	// Truncated is set when the body hit maxBodyBytes.
	Truncated bool `json:"truncated,omitempty"`
}

// Client fetches and extracts pages.
type Client struct {
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a fetch client. A nil httpClient gets the shared
// default with a 30s timeout.
func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = httpkit.NewClient(httpkit.WithTimeout(30 * time.Second))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{http: httpClient, logger: logger.With("component", "fetch")}
}

// Fetch retrieves url and extracts its readable text. Non-HTML
// responses are returned as raw text.
func (c *Client) Fetch(ctx context.Context, url string) (*Page, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("unsupported URL scheme in %q", url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.1")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	truncated := len(body) == maxBodyBytes

	page := &Page{URL: url, Truncated: truncated}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "html") {
		title, text := ExtractText(body)
		page.Title = title
		page.Text = text
	} else {
		page.Text = strings.TrimSpace(string(body))
	}

	c.logger.Debug("fetched page", "url", url, "bytes", len(body), "truncated", truncated)
	return page, nil
}
