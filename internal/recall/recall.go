package recall

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mymeta/agent/internal/history"
	"github.com/mymeta/agent/internal/tools"
)

// Hit is one retrieved memory.
type Hit struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// Recaller searches stored conversation history. With an embedder it
// ranks recent messages by cosine similarity; without one, or when the
// embedder fails, it falls back to keyword search.
type Recaller struct {
	store    *history.Store
	embedder Embedder
	logger   *slog.Logger

	// candidatePool bounds how many recent messages get embedded per
	// query.
	candidatePool int
}

// NewRecaller creates a recaller. embedder may be nil.
func NewRecaller(store *history.Store, embedder Embedder, logger *slog.Logger) *Recaller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recaller{
		store:         store,
		embedder:      embedder,
		logger:        logger.With("component", "recall"),
		candidatePool: 200,
	}
}

// Search returns up to limit past messages relevant to query.
func (r *Recaller) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 5
	}
	if r.embedder != nil {
		hits, err := r.semanticSearch(ctx, query, limit)
		if err == nil {
			return hits, nil
		}
		r.logger.Warn("semantic search failed, falling back to keyword", "error", err)
	}
	return r.keywordSearch(ctx, query, limit)
}

func (r *Recaller) semanticSearch(ctx context.Context, query string, limit int) ([]Hit, error) {
	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := r.store.AllRecentMessages(ctx, r.candidatePool)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	hits := make([]Hit, 0, len(candidates))
	for _, m := range candidates {
		if m.Content == "" {
			continue
		}
		vec, err := r.embedder.Embed(ctx, m.Content)
		if err != nil {
			return nil, fmt.Errorf("embed candidate: %w", err)
		}
		hits = append(hits, Hit{
			SessionID: m.SessionID,
			Role:      m.Role,
			Content:   m.Content,
			Score:     cosineSimilarity(queryVec, vec),
			CreatedAt: m.CreatedAt,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (r *Recaller) keywordSearch(ctx context.Context, query string, limit int) ([]Hit, error) {
	msgs, err := r.store.SearchMessages(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(msgs))
	for _, m := range msgs {
		hits = append(hits, Hit{
			SessionID: m.SessionID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	return hits, nil
}

// Tool exposes history search to the model.
func Tool(r *Recaller) tools.Tool {
	return tools.Tool{
		Name:        "memory_search",
		Description: "在历史对话记录中检索与查询相关的内容，用于回忆之前讨论过的信息。参数：query（查询内容，必填）、limit（返回条数，默认 5）。",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "要检索的内容"},
				"limit": map[string]any{"type": "integer", "description": "返回条数上限"},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return nil, fmt.Errorf("query is required")
			}
			limit := 5
			if n, ok := args["limit"].(float64); ok && n > 0 {
				limit = int(n)
			}

			hits, err := r.Search(ctx, query, limit)
			if err != nil {
				return nil, err
			}

			out := make([]any, 0, len(hits))
			for _, h := range hits {
				out = append(out, map[string]any{
					"role":    h.Role,
					"content": h.Content,
					"date":    h.CreatedAt.Format("2006-01-02 15:04"),
				})
			}
			return map[string]any{"memories": out}, nil
		},
	}
}
