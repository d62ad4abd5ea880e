// Package forge gives the agent read access to GitHub: repository
// metadata, code search, and file contents.
package forge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v69/github"

	"github.com/mymeta/agent/internal/httpkit"
)

// Client wraps the go-github SDK with the small read-only surface the
// agent's tools need.
type Client struct {
	gh     *gogithub.Client
	logger *slog.Logger
}

// NewClient creates a GitHub client. An empty token means anonymous
// access (public repositories, low rate limit). apiBase overrides the
// API endpoint for GitHub Enterprise or tests.
func NewClient(token, apiBase string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if httpClient == nil {
		httpClient = httpkit.NewClient(httpkit.WithTimeout(30 * time.Second))
	}
	if logger == nil {
		logger = slog.Default()
	}

	gh := gogithub.NewClient(httpClient)
	if token != "" {
		gh = gh.WithAuthToken(token)
	}
	if apiBase != "" {
		base, err := url.Parse(strings.TrimRight(apiBase, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse github api base %q: %w", apiBase, err)
		}
		gh.BaseURL = base
	}

	return &Client{gh: gh, logger: logger.With("component", "forge")}, nil
}

// splitRepo splits "owner/repo" into its parts.
func splitRepo(repo string) (string, string, error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo %q: expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}

// checkRateLimit warns when the remaining API quota runs low.
func (c *Client) checkRateLimit(resp *gogithub.Response) {
	if resp != nil && resp.Rate.Remaining < 100 {
		c.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time,
		)
	}
}

// RepoInfo is the condensed repository metadata returned to the model.
type RepoInfo struct {
	FullName    string `json:"full_name"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language,omitempty"`
	Stars       int    `json:"stars"`
	Forks       int    `json:"forks"`
	OpenIssues  int    `json:"open_issues"`
	Topics      string `json:"topics,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
	URL         string `json:"url"`
}

// GetRepo fetches repository metadata.
func (c *Client) GetRepo(ctx context.Context, repo string) (*RepoInfo, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	r, resp, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("get repo %s: %w", repo, err)
	}
	c.checkRateLimit(resp)

	info := &RepoInfo{
		FullName:    r.GetFullName(),
		Description: r.GetDescription(),
		Language:    r.GetLanguage(),
		Stars:       r.GetStargazersCount(),
		Forks:       r.GetForksCount(),
		OpenIssues:  r.GetOpenIssuesCount(),
		Topics:      strings.Join(r.Topics, ", "),
		URL:         r.GetHTMLURL(),
	}
	if !r.GetUpdatedAt().IsZero() {
		info.UpdatedAt = r.GetUpdatedAt().Format(time.RFC3339)
	}
	return info, nil
}

// CodeHit is one code search match.
type CodeHit struct {
	Repo     string `json:"repo"`
	Path     string `json:"path"`
	URL      string `json:"url"`
	Fragment string `json:"fragment,omitempty"`
}

// SearchCode runs a code search query and returns up to limit hits.
func (c *Client) SearchCode(ctx context.Context, query string, limit int) ([]CodeHit, error) {
	if limit <= 0 || limit > 30 {
		limit = 10
	}

	opts := &gogithub.SearchOptions{
		TextMatch:   true,
		ListOptions: gogithub.ListOptions{PerPage: limit},
	}
	result, resp, err := c.gh.Search.Code(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("search code %q: %w", query, err)
	}
	c.checkRateLimit(resp)

	hits := make([]CodeHit, 0, len(result.CodeResults))
	for _, cr := range result.CodeResults {
		hit := CodeHit{
			Repo: cr.GetRepository().GetFullName(),
			Path: cr.GetPath(),
			URL:  cr.GetHTMLURL(),
		}
		if len(cr.TextMatches) > 0 {
			hit.Fragment = cr.TextMatches[0].GetFragment()
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// ReadFile fetches a file's decoded content from a repository. ref may
// be empty for the default branch.
func (c *Client) ReadFile(ctx context.Context, repo, path, ref string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}

	opts := &gogithub.RepositoryContentGetOptions{Ref: ref}
	file, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, name, path, opts)
	if err != nil {
		return "", fmt.Errorf("read %s:%s: %w", repo, path, err)
	}
	c.checkRateLimit(resp)

	if file == nil {
		return "", fmt.Errorf("%s:%s is a directory, not a file", repo, path)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decode %s:%s: %w", repo, path, err)
	}
	return content, nil
}
