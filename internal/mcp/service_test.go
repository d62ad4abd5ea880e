package mcp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mymeta/agent/internal/config"
)

// newServiceWithFake wires a Service to clients backed by a shared
// handler, counting how many clients were opened and closed.
func newServiceWithFake(cfg config.ServiceConfig, handler func(req *Request) (*Response, error)) (*Service, *int, []*fakeTransport) {
	opened := 0
	var transports []*fakeTransport

	s := NewService(cfg, nil)
	s.open = func(ctx context.Context) (*Client, error) {
		opened++
		tr := &fakeTransport{handler: handler}
		transports = append(transports, tr)
		return NewClient(cfg.Name, tr, nil), nil
	}
	return s, &opened, transports
}

func calcHandler(req *Request) (*Response, error) {
	switch req.Method {
	case "tools/list":
		return resultResponse(req.ID, map[string]any{
			"tools": []map[string]any{
				{"name": "add", "description": "adds", "inputSchema": map[string]any{"type": "object"}},
			},
		})
	case "tools/call":
		return resultResponse(req.ID, map[string]any{
			"content": []map[string]any{{"type": "text", "text": "3"}},
		})
	default:
		return resultResponse(req.ID, map[string]any{})
	}
}

func TestServiceToolsDiscoversAndCaches(t *testing.T) {
	lists := 0
	s, opened, _ := newServiceWithFake(
		config.ServiceConfig{Name: "calc", Command: "calc"},
		func(req *Request) (*Response, error) {
			if req.Method == "tools/list" {
				lists++
			}
			return calcHandler(req)
		},
	)

	ts, err := s.Tools(context.Background(), false)
	if err != nil {
		t.Fatalf("Tools() = %v", err)
	}
	if len(ts) != 1 || ts[0].Name != "add" {
		t.Fatalf("Tools() = %+v", ts)
	}

	if _, err := s.Tools(context.Background(), false); err != nil {
		t.Fatalf("Tools() = %v", err)
	}
	if lists != 1 {
		t.Errorf("tools/list issued %d times, want 1 (cached)", lists)
	}

	if _, err := s.Tools(context.Background(), true); err != nil {
		t.Fatalf("Tools(force) = %v", err)
	}
	if lists != 2 {
		t.Errorf("tools/list issued %d times after force, want 2", lists)
	}
	_ = opened
}

func TestServiceSpawnOpensClientPerCall(t *testing.T) {
	s, opened, _ := newServiceWithFake(
		config.ServiceConfig{Name: "calc", Command: "calc", Strategy: "spawn"},
		calcHandler,
	)

	for i := 0; i < 3; i++ {
		if _, err := s.Call(context.Background(), "add", map[string]any{"a": 1}); err != nil {
			t.Fatalf("Call() = %v", err)
		}
	}
	if *opened != 3 {
		t.Errorf("opened %d clients, want 3 (one per call)", *opened)
	}
}

func TestServiceSpawnClosesClientAfterCall(t *testing.T) {
	var tr *fakeTransport
	s := NewService(config.ServiceConfig{Name: "calc", Command: "calc", Strategy: "spawn"}, nil)
	s.open = func(ctx context.Context) (*Client, error) {
		tr = &fakeTransport{handler: calcHandler}
		return NewClient("calc", tr, nil), nil
	}

	if _, err := s.Call(context.Background(), "add", nil); err != nil {
		t.Fatalf("Call() = %v", err)
	}
	if !tr.closed {
		t.Error("spawn client not closed after call")
	}
}

// wedgedTransport never answers; Send blocks until the caller's
// context expires, like a worker that hangs mid-protocol.
type wedgedTransport struct{}

func (wedgedTransport) Send(ctx context.Context, _ *Request) (*Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (wedgedTransport) Notify(context.Context, *Notification) error { return nil }
func (wedgedTransport) Close() error                                { return nil }

func TestServiceToolsAppliesConfiguredTimeout(t *testing.T) {
	s := NewService(config.ServiceConfig{Name: "calc", Command: "calc", TimeoutSec: 1}, nil)
	s.open = func(ctx context.Context) (*Client, error) {
		return NewClient("calc", wedgedTransport{}, nil), nil
	}

	start := time.Now()
	_, err := s.Tools(context.Background(), false)
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Tools() = %v, want deadline exceeded", err)
	}
	if elapsed > 3*time.Second {
		t.Fatalf("Tools() took %s, want ~1s (configured timeout)", elapsed)
	}
}

func TestServiceCallAppliesConfiguredTimeout(t *testing.T) {
	s := NewService(config.ServiceConfig{Name: "calc", Command: "calc", TimeoutSec: 1}, nil)
	s.open = func(ctx context.Context) (*Client, error) {
		return NewClient("calc", wedgedTransport{}, nil), nil
	}

	start := time.Now()
	_, err := s.Call(context.Background(), "add", nil)
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Call() = %v, want deadline exceeded", err)
	}
	if elapsed > 3*time.Second {
		t.Fatalf("Call() took %s, want ~1s (configured timeout)", elapsed)
	}
}

func TestServiceSpawnBoundsConcurrency(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var cur, peak int32

	s := NewService(config.ServiceConfig{
		Name: "calc", Command: "calc", Strategy: "spawn", MaxConcurrent: 1,
	}, nil)
	s.open = func(ctx context.Context) (*Client, error) {
		tr := &fakeTransport{handler: func(req *Request) (*Response, error) {
			if req.Method == "tools/call" {
				n := atomic.AddInt32(&cur, 1)
				if n > atomic.LoadInt32(&peak) {
					atomic.StoreInt32(&peak, n)
				}
				started <- struct{}{}
				<-release
				atomic.AddInt32(&cur, -1)
			}
			return calcHandler(req)
		}}
		return NewClient("calc", tr, nil), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Call(context.Background(), "add", nil); err != nil {
				t.Errorf("Call() = %v", err)
			}
		}()
	}

	// Let the calls through one at a time; the slot cap must keep the
	// second from entering before the first finishes.
	<-started
	release <- struct{}{}
	<-started
	release <- struct{}{}
	wg.Wait()

	if got := atomic.LoadInt32(&peak); got != 1 {
		t.Errorf("peak in-flight calls = %d, want 1", got)
	}
}

func TestServicePooledReusesClient(t *testing.T) {
	s, opened, _ := newServiceWithFake(
		config.ServiceConfig{Name: "calc", Command: "calc", Strategy: "pooled"},
		calcHandler,
	)

	for i := 0; i < 3; i++ {
		if _, err := s.Call(context.Background(), "add", nil); err != nil {
			t.Fatalf("Call() = %v", err)
		}
	}
	if *opened != 1 {
		t.Errorf("opened %d clients, want 1 (pooled)", *opened)
	}
}

func TestServicePooledRespawnsAfterTransportFailure(t *testing.T) {
	fail := true
	s, opened, _ := newServiceWithFake(
		config.ServiceConfig{Name: "calc", Command: "calc", Strategy: "pooled"},
		func(req *Request) (*Response, error) {
			if fail {
				return nil, errors.New("pipe broken")
			}
			return calcHandler(req)
		},
	)

	if _, err := s.Call(context.Background(), "add", nil); err == nil {
		t.Fatal("Call() succeeded, want transport error")
	}

	fail = false
	if _, err := s.Call(context.Background(), "add", nil); err != nil {
		t.Fatalf("Call() after recovery = %v", err)
	}
	if *opened != 2 {
		t.Errorf("opened %d clients, want 2 (respawn after failure)", *opened)
	}
}

func TestServiceCallReturnsStructuredContent(t *testing.T) {
	s, _, _ := newServiceWithFake(
		config.ServiceConfig{Name: "calc", Command: "calc"},
		func(req *Request) (*Response, error) {
			return resultResponse(req.ID, map[string]any{
				"content":           []map[string]any{{"type": "text", "text": "ok"}},
				"structuredContent": map[string]any{"sum": 3},
			})
		},
	)

	got, err := s.Call(context.Background(), "add", nil)
	if err != nil {
		t.Fatalf("Call() = %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("Call() = %T, want map (structured preferred over text)", got)
	}
	if m["sum"] != float64(3) {
		t.Errorf("structured = %v", m)
	}
}

func TestServiceCallIsErrorBecomesError(t *testing.T) {
	s, _, _ := newServiceWithFake(
		config.ServiceConfig{Name: "calc", Command: "calc"},
		func(req *Request) (*Response, error) {
			return resultResponse(req.ID, map[string]any{
				"content": []map[string]any{{"type": "text", "text": "bad operand"}},
				"isError": true,
			})
		},
	)

	_, err := s.Call(context.Background(), "add", nil)
	if err == nil {
		t.Fatal("Call() succeeded, want error from isError result")
	}
	if !strings.Contains(err.Error(), "bad operand") {
		t.Errorf("error = %v, want service diagnostic included", err)
	}
}

func TestServiceToolHandlerRoutesThroughCall(t *testing.T) {
	var calledTool string
	s, _, _ := newServiceWithFake(
		config.ServiceConfig{Name: "calc", Command: "calc"},
		func(req *Request) (*Response, error) {
			if req.Method == "tools/call" {
				calledTool = req.Params.(map[string]any)["name"].(string)
			}
			return calcHandler(req)
		},
	)

	ts, err := s.Tools(context.Background(), false)
	if err != nil {
		t.Fatalf("Tools() = %v", err)
	}

	if _, err := ts[0].Handler(context.Background(), map[string]any{"a": 1, "b": 2}); err != nil {
		t.Fatalf("Handler() = %v", err)
	}
	if calledTool != "add" {
		t.Errorf("handler invoked tool %q, want add", calledTool)
	}
}
