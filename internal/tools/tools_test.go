package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func noop(ctx context.Context, args map[string]any) (any, error) {
	return "ok", nil
}

type fakeProvider struct {
	name  string
	tools []Tool
	err   error
	calls int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Tools(ctx context.Context, force bool) ([]Tool, error) {
	p.calls++
	return p.tools, p.err
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(Tool{Name: "a", Handler: noop}); err != nil {
		t.Fatalf("Register() = %v", err)
	}
	if err := r.Register(Tool{Name: "a", Handler: noop}); err == nil {
		t.Fatal("duplicate Register() succeeded, want error")
	}
}

func TestListMergesLocalAndProviderTools(t *testing.T) {
	r := NewRegistry(nil)
	r.MustRegister(Tool{Name: "local_one", Handler: noop})
	r.AddProvider(&fakeProvider{name: "svc", tools: []Tool{
		{Name: "svc_tool", Handler: noop},
	}})

	got := r.List(context.Background(), false)
	if len(got) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(got))
	}
	if got[0].Name != "local_one" || got[1].Name != "svc_tool" {
		t.Errorf("List() order = [%s %s]", got[0].Name, got[1].Name)
	}
}

func TestListLocalWinsNameCollision(t *testing.T) {
	r := NewRegistry(nil)
	r.MustRegister(Tool{Name: "search", Description: "local", Handler: noop})
	r.AddProvider(&fakeProvider{name: "svc", tools: []Tool{
		{Name: "search", Description: "provider", Handler: noop},
	}})

	got := r.List(context.Background(), false)
	if len(got) != 1 {
		t.Fatalf("len(List()) = %d, want 1", len(got))
	}
	if got[0].Description != "local" {
		t.Errorf("collision resolved to %q, want local", got[0].Description)
	}
}

func TestListSkipsFailingProvider(t *testing.T) {
	r := NewRegistry(nil)
	r.AddProvider(&fakeProvider{name: "bad", err: errors.New("boom")})
	r.AddProvider(&fakeProvider{name: "good", tools: []Tool{
		{Name: "works", Handler: noop},
	}})

	got := r.List(context.Background(), false)
	if len(got) != 1 || got[0].Name != "works" {
		t.Errorf("List() = %v, want just works", got)
	}
}

func TestListCachesSnapshotUntilForced(t *testing.T) {
	p := &fakeProvider{name: "svc", tools: []Tool{{Name: "a", Handler: noop}}}
	r := NewRegistry(nil)
	r.AddProvider(p)

	r.List(context.Background(), false)
	r.List(context.Background(), false)
	if p.calls != 1 {
		t.Errorf("provider queried %d times, want 1 (cached)", p.calls)
	}

	r.List(context.Background(), true)
	if p.calls != 2 {
		t.Errorf("provider queried %d times after force, want 2", p.calls)
	}
}

func TestResolveMissRefreshesOnce(t *testing.T) {
	p := &fakeProvider{name: "svc"}
	r := NewRegistry(nil)
	r.AddProvider(p)
	r.List(context.Background(), false) // snapshot with no tools

	before := p.calls
	_, err := r.Resolve(context.Background(), "late_tool")
	if !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("Resolve() error = %v, want ErrToolUnavailable", err)
	}
	if p.calls != before+1 {
		t.Errorf("refresh queried provider %d times, want exactly 1", p.calls-before)
	}
}

func TestResolveFindsToolAddedSinceSnapshot(t *testing.T) {
	p := &fakeProvider{name: "svc"}
	r := NewRegistry(nil)
	r.AddProvider(p)
	r.List(context.Background(), false)

	// Service registers a tool after the first snapshot.
	p.tools = []Tool{{Name: "late_tool", Handler: noop}}

	got, err := r.Resolve(context.Background(), "late_tool")
	if err != nil {
		t.Fatalf("Resolve() = %v", err)
	}
	if got.Name != "late_tool" {
		t.Errorf("Resolve() = %s", got.Name)
	}
}

func TestCallWrapsHandlerError(t *testing.T) {
	r := NewRegistry(nil)
	r.MustRegister(Tool{Name: "flaky", Handler: func(ctx context.Context, args map[string]any) (any, error) {
		return nil, fmt.Errorf("disk on fire")
	}})

	_, err := r.Call(context.Background(), "flaky", nil)

	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("Call() error = %v, want *ExecError", err)
	}
	if execErr.Tool != "flaky" {
		t.Errorf("ExecError.Tool = %q", execErr.Tool)
	}
}

func TestCallUnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Call(context.Background(), "ghost", nil)
	if !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("Call() error = %v, want ErrToolUnavailable", err)
	}
}
