package fetch

import (
	"context"
	"fmt"

	"github.com/mymeta/agent/internal/tools"
)

// maxObservationRunes bounds how much page text is folded back into
// the conversation.
const maxObservationRunes = 8000

// Tool exposes page fetching to the agent's registry.
func Tool(c *Client) tools.Tool {
	return tools.Tool{
		Name:        "fetch_url",
		Description: "抓取网页并提取正文文本，适合阅读文章、文档或 README。参数：url（网页地址，必填）。",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "要抓取的网页地址（http/https）",
				},
			},
			"required": []string{"url"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			url, _ := args["url"].(string)
			if url == "" {
				return nil, fmt.Errorf("url is required")
			}

			page, err := c.Fetch(ctx, url)
			if err != nil {
				return nil, err
			}

			text := page.Text
			truncated := page.Truncated
			if runes := []rune(text); len(runes) > maxObservationRunes {
				text = string(runes[:maxObservationRunes])
				truncated = true
			}
			return map[string]any{
				"url":       page.URL,
				"title":     page.Title,
				"text":      text,
				"truncated": truncated,
			}, nil
		},
	}
}
