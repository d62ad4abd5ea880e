package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("tvly-test", nil,
		WithEndpoint(srv.URL),
		WithHTTPClient(srv.Client()),
	)
}

func TestSearchSendsKeyAndQuery(t *testing.T) {
	var captured searchRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"answer":"Go is a language","results":[
			{"title":"golang.org","url":"https://go.dev","content":"The Go programming language"}
		]}`))
	})

	resp, err := c.Search(context.Background(), "what is golang", 3)
	if err != nil {
		t.Fatalf("Search() = %v", err)
	}

	if captured.APIKey != "tvly-test" || captured.Query != "what is golang" || captured.MaxResults != 3 {
		t.Errorf("request = %+v", captured)
	}
	if resp.Answer != "Go is a language" || len(resp.Results) != 1 {
		t.Errorf("response = %+v", resp)
	}
	if resp.Results[0].URL != "https://go.dev" {
		t.Errorf("result = %+v", resp.Results[0])
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	c := NewClient("k", nil)
	if _, err := c.Search(context.Background(), "", 5); err == nil {
		t.Fatal("Search(\"\") succeeded, want error")
	}
}

func TestSearchErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})

	if _, err := c.Search(context.Background(), "q", 1); err == nil {
		t.Fatal("Search() succeeded on 401, want error")
	}
}

func TestToolHandlerShapesObservation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"answer":"yes","results":[{"title":"t","url":"u","content":"c"}]}`))
	})

	tool := Tool(c)
	got, err := tool.Handler(context.Background(), map[string]any{"query": "q"})
	if err != nil {
		t.Fatalf("Handler() = %v", err)
	}

	obs := got.(map[string]any)
	if obs["answer"] != "yes" {
		t.Errorf("answer = %v", obs["answer"])
	}
	results := obs["results"].([]any)
	if len(results) != 1 || results[0].(map[string]any)["url"] != "u" {
		t.Errorf("results = %v", results)
	}
}

func TestToolHandlerRequiresQuery(t *testing.T) {
	tool := Tool(NewClient("k", nil))
	if _, err := tool.Handler(context.Background(), map[string]any{}); err == nil {
		t.Fatal("Handler without query succeeded, want error")
	}
}
