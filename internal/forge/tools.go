package forge

import (
	"context"
	"fmt"

	"github.com/mymeta/agent/internal/tools"
)

// Tools returns the GitHub tool set backed by c.
func Tools(c *Client) []tools.Tool {
	return []tools.Tool{
		{
			Name:        "github_repo_info",
			Description: "查询 GitHub 仓库的基础信息（描述、语言、Star 数、最近更新时间等）。参数：repo（owner/repo 格式，必填）。",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo": map[string]any{
						"type":        "string",
						"description": "仓库全名，例如 golang/go",
					},
				},
				"required": []string{"repo"},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				repo, _ := args["repo"].(string)
				if repo == "" {
					return nil, fmt.Errorf("repo is required")
				}
				info, err := c.GetRepo(ctx, repo)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"full_name":   info.FullName,
					"description": info.Description,
					"language":    info.Language,
					"stars":       info.Stars,
					"forks":       info.Forks,
					"open_issues": info.OpenIssues,
					"topics":      info.Topics,
					"updated_at":  info.UpdatedAt,
					"url":         info.URL,
				}, nil
			},
		},
		{
			Name:        "github_search_code",
			Description: "在 GitHub 上搜索代码，定位示例或实现。参数：query（搜索表达式，必填，可带 repo:/language: 限定符）、limit（结果数量，默认 10）。",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "GitHub 代码搜索表达式",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "返回结果数量上限",
					},
				},
				"required": []string{"query"},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				query, _ := args["query"].(string)
				if query == "" {
					return nil, fmt.Errorf("query is required")
				}
				limit := 0
				if n, ok := args["limit"].(float64); ok {
					limit = int(n)
				}
				hits, err := c.SearchCode(ctx, query, limit)
				if err != nil {
					return nil, err
				}
				out := make([]any, 0, len(hits))
				for _, h := range hits {
					out = append(out, map[string]any{
						"repo":     h.Repo,
						"path":     h.Path,
						"url":      h.URL,
						"fragment": h.Fragment,
					})
				}
				return map[string]any{"results": out}, nil
			},
		},
		{
			Name:        "github_read_file",
			Description: "读取 GitHub 仓库中某个文件的内容。参数：repo（owner/repo，必填）、path（文件路径，必填）、ref（分支或提交，可选）。",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo": map[string]any{"type": "string", "description": "仓库全名"},
					"path": map[string]any{"type": "string", "description": "仓库内文件路径"},
					"ref":  map[string]any{"type": "string", "description": "分支、标签或提交"},
				},
				"required": []string{"repo", "path"},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				repo, _ := args["repo"].(string)
				path, _ := args["path"].(string)
				if repo == "" || path == "" {
					return nil, fmt.Errorf("repo and path are required")
				}
				ref, _ := args["ref"].(string)
				content, err := c.ReadFile(ctx, repo, path, ref)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"repo":    repo,
					"path":    path,
					"content": content,
				}, nil
			},
		},
	}
}
