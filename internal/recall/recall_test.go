package recall

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/mymeta/agent/internal/history"
)

func newTestHistory(t *testing.T) *history.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	s := history.New(db, nil)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() = %v", err)
	}
	return s
}

func seedMessages(t *testing.T, s *history.Store, contents ...string) {
	t.Helper()
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession() = %v", err)
	}
	for _, c := range contents {
		if _, err := s.AppendMessage(ctx, sess.ID, "assistant", c); err != nil {
			t.Fatalf("AppendMessage() = %v", err)
		}
	}
}

// fixedEmbedder maps known texts to fixed vectors.
type fixedEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (f *fixedEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float64{0, 0, 1}, nil
}

func TestSemanticSearchRanksBySimilarity(t *testing.T) {
	store := newTestHistory(t)
	seedMessages(t, store, "咖啡机在三楼", "会议安排在周五", "打印机密码是 1234")

	emb := &fixedEmbedder{vectors: map[string][]float64{
		"咖啡在哪里":     {1, 0, 0},
		"咖啡机在三楼":    {0.9, 0.1, 0},
		"会议安排在周五":   {0, 1, 0},
		"打印机密码是 1234": {0, 0.5, 0.5},
	}}
	r := NewRecaller(store, emb, nil)

	hits, err := r.Search(context.Background(), "咖啡在哪里", 2)
	if err != nil {
		t.Fatalf("Search() = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Content != "咖啡机在三楼" {
		t.Errorf("top hit = %q", hits[0].Content)
	}
	if hits[0].Score <= hits[1].Score {
		t.Errorf("scores not descending: %f, %f", hits[0].Score, hits[1].Score)
	}
}

func TestSearchFallsBackToKeyword(t *testing.T) {
	store := newTestHistory(t)
	seedMessages(t, store, "项目代号是 aurora", "今天没有安排")

	r := NewRecaller(store, &fixedEmbedder{err: fmt.Errorf("model offline")}, nil)
	hits, err := r.Search(context.Background(), "aurora", 5)
	if err != nil {
		t.Fatalf("Search() = %v", err)
	}
	if len(hits) != 1 || hits[0].Content != "项目代号是 aurora" {
		t.Errorf("fallback hits = %+v", hits)
	}
}

func TestKeywordSearchWithoutEmbedder(t *testing.T) {
	store := newTestHistory(t)
	seedMessages(t, store, "服务器 IP 是 10.0.0.5")

	r := NewRecaller(store, nil, nil)
	hits, err := r.Search(context.Background(), "10.0.0.5", 5)
	if err != nil {
		t.Fatalf("Search() = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
}

func TestOllamaEmbedder(t *testing.T) {
	var gotModel, gotPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s", req.URL.Path)
		}
		var body struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		gotModel, gotPrompt = body.Model, body.Prompt
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2, 0.3}})
	}))
	defer server.Close()

	e := NewOllamaEmbedder(server.URL, "nomic-embed-text", nil)
	vec, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed() = %v", err)
	}
	if len(vec) != 3 || vec[1] != 0.2 {
		t.Errorf("vec = %v", vec)
	}
	if gotModel != "nomic-embed-text" || gotPrompt != "hello world" {
		t.Errorf("request = %q %q", gotModel, gotPrompt)
	}
}

func TestOllamaEmbedderErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	e := NewOllamaEmbedder(server.URL, "ghost", nil)
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Error("Embed() against 404 succeeded, want error")
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{}})
	}))
	defer empty.Close()

	e = NewOllamaEmbedder(empty.URL, "m", nil)
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Error("Embed() with empty vector succeeded, want error")
	}
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		a, b []float64
		want float64
	}{
		{[]float64{1, 0}, []float64{1, 0}, 1},
		{[]float64{1, 0}, []float64{0, 1}, 0},
		{[]float64{1, 0}, []float64{-1, 0}, -1},
		{[]float64{1, 0}, []float64{0, 0}, 0},
		{[]float64{1, 0}, []float64{1, 0, 0}, 0},
	}
	for _, tc := range cases {
		if got := cosineSimilarity(tc.a, tc.b); got != tc.want {
			t.Errorf("cosineSimilarity(%v, %v) = %f, want %f", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestMemorySearchTool(t *testing.T) {
	store := newTestHistory(t)
	seedMessages(t, store, "wifi 密码是 hunter2")

	tool := Tool(NewRecaller(store, nil, nil))
	if tool.Name != "memory_search" {
		t.Fatalf("tool name = %q", tool.Name)
	}

	obs, err := tool.Handler(context.Background(), map[string]any{"query": "wifi"})
	if err != nil {
		t.Fatalf("Handler() = %v", err)
	}
	result := obs.(map[string]any)
	memories := result["memories"].([]any)
	if len(memories) != 1 {
		t.Fatalf("got %d memories, want 1", len(memories))
	}
	first := memories[0].(map[string]any)
	if first["content"] != "wifi 密码是 hunter2" {
		t.Errorf("content = %v", first["content"])
	}

	if _, err := tool.Handler(context.Background(), map[string]any{}); err == nil {
		t.Error("missing query accepted")
	}
}
