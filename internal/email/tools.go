package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mymeta/agent/internal/config"
	"github.com/mymeta/agent/internal/tools"
)

// Manager bundles the mail configuration behind the agent's tools.
type Manager struct {
	cfg    config.EmailConfig
	logger *slog.Logger
}

// NewManager creates a mail tool manager.
func NewManager(cfg config.EmailConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: logger.With("component", "email")}
}

// Tools returns the mail tool set. Send requires SMTP configuration,
// listing requires IMAP; a missing half simply drops that tool.
func (m *Manager) Tools() []tools.Tool {
	var out []tools.Tool
	if m.cfg.SMTP.Host != "" {
		out = append(out, m.sendTool())
	}
	if m.cfg.IMAP.Host != "" {
		out = append(out, m.listTool())
	}
	return out
}

func (m *Manager) sendTool() tools.Tool {
	return tools.Tool{
		Name:        "send_mail",
		Description: "撰写并发送一封邮件，正文支持 Markdown（自动转换为 HTML）。参数：to（收件人列表，必填）、subject（主题，必填）、body（正文 Markdown，必填）、cc（抄送列表，可选）。",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"to": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "收件人邮箱地址",
				},
				"cc": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "抄送邮箱地址",
				},
				"subject": map[string]any{"type": "string", "description": "邮件主题"},
				"body":    map[string]any{"type": "string", "description": "邮件正文（Markdown）"},
			},
			"required": []string{"to", "subject", "body"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			to := stringList(args["to"])
			if len(to) == 0 {
				return nil, fmt.Errorf("to is required")
			}
			subject, _ := args["subject"].(string)
			body, _ := args["body"].(string)
			if subject == "" || body == "" {
				return nil, fmt.Errorf("subject and body are required")
			}
			cc := stringList(args["cc"])

			msg, err := ComposeMessage(ComposeOptions{
				From:    m.cfg.SMTP.From,
				To:      to,
				Cc:      cc,
				Subject: subject,
				Body:    body,
			})
			if err != nil {
				return nil, err
			}

			from := bareAddress(m.cfg.SMTP.From)
			if err := SendMail(ctx, m.cfg.SMTP, from, Recipients(to, cc), msg); err != nil {
				return nil, err
			}

			m.logger.Info("mail sent", "to", to, "subject", subject)
			return map[string]any{
				"status":  "sent",
				"to":      to,
				"subject": subject,
			}, nil
		},
	}
}

func (m *Manager) listTool() tools.Tool {
	return tools.Tool{
		Name:        "list_recent_mail",
		Description: "列出邮箱中最近的邮件（发件人、主题、时间）。参数：limit（数量，默认 10）、unseen_only（只看未读，默认 false）。",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit":       map[string]any{"type": "integer", "description": "返回邮件数量上限"},
				"unseen_only": map[string]any{"type": "boolean", "description": "只返回未读邮件"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			limit := 10
			if n, ok := args["limit"].(float64); ok && n > 0 {
				limit = int(n)
			}
			unseenOnly, _ := args["unseen_only"].(bool)

			envelopes, err := ListRecent(m.cfg.IMAP, limit, unseenOnly)
			if err != nil {
				return nil, err
			}

			out := make([]any, 0, len(envelopes))
			for _, e := range envelopes {
				out = append(out, map[string]any{
					"from":    e.From,
					"subject": e.Subject,
					"date":    e.Date.Format("2006-01-02 15:04"),
					"seen":    e.Seen,
				})
			}
			return map[string]any{"messages": out}, nil
		},
	}
}

// stringList coerces a decoded JSON array into []string, skipping
// non-string entries.
func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if s, ok := v.(string); ok && s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
