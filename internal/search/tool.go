package search

import (
	"context"
	"fmt"

	"github.com/mymeta/agent/internal/tools"
)

// Tool exposes web search to the agent's registry.
func Tool(c *Client) tools.Tool {
	return tools.Tool{
		Name:        "web_search",
		Description: "使用 Tavily 进行实时网络搜索，返回结果列表和综合答案。参数：query（搜索词，必填）、max_results（结果数量，默认 5）。",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "搜索关键词",
				},
				"max_results": map[string]any{
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
			maxResults := 5
			if n, ok := args["max_results"].(float64); ok && n > 0 {
				maxResults = int(n)
			}

			resp, err := c.Search(ctx, query, maxResults)
			if err != nil {
				return nil, err
			}

			results := make([]any, 0, len(resp.Results))
			for _, r := range resp.Results {
				results = append(results, map[string]any{
					"title":   r.Title,
					"url":     r.URL,
					"content": r.Content,
				})
			}
			return map[string]any{
				"answer":  resp.Answer,
				"results": results,
			}, nil
		},
	}
}
