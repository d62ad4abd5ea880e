// Package tools defines the tool abstraction the agent loop executes
// against, and a registry that merges locally registered tools with
// tools discovered from external providers (process-backed services).
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mymeta/agent/internal/llm"
)

// Handler executes one tool call. The returned value is coerced to a
// JSON observation by the agent; returning an error makes the call a
// recoverable execution failure.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is one callable capability.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema for the arguments object
	Handler     Handler
}

// Spec converts the tool to the shape advertised to model backends.
func (t Tool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Parameters,
	}
}

// Provider contributes dynamically discovered tools, typically from an
// external tool service. Tools(force=true) must bypass any cache the
// provider keeps.
type Provider interface {
	Name() string
	Tools(ctx context.Context, force bool) ([]Tool, error)
}

// Registry holds all tools available to the agent. Locally registered
// tools are fixed at startup; provider tools are discovered lazily and
// cached as an immutable snapshot that is swapped atomically on
// refresh, so readers never see a half-built inventory.
//
// On a name collision the earlier registration wins: local tools beat
// provider tools, and earlier providers beat later ones.
type Registry struct {
	logger *slog.Logger

	mu          sync.RWMutex
	local       []Tool
	localByName map[string]int
	providers   []Provider
	snapshot    []Tool // provider tools, nil until first refresh
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:      logger.With("component", "tools"),
		localByName: make(map[string]int),
	}
}

// Register adds a local tool. Registering a duplicate name is a
// programming error and is rejected.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool has no name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s has no handler", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.localByName[t.Name]; dup {
		return fmt.Errorf("tool %s already registered", t.Name)
	}
	r.localByName[t.Name] = len(r.local)
	r.local = append(r.local, t)
	return nil
}

// MustRegister is Register for startup wiring, where a duplicate name
// means the binary is misassembled.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// AddProvider adds a tool provider. Its tools become visible on the
// next refresh (first List or a Resolve miss).
func (r *Registry) AddProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
	r.snapshot = nil // force rediscovery
}

// List returns every available tool: local tools first, then provider
// tools in provider order. With force set, providers are re-queried
// even if a snapshot exists. A provider that fails to enumerate is
// logged and skipped; its tools simply drop out of the inventory.
func (r *Registry) List(ctx context.Context, force bool) []Tool {
	r.refresh(ctx, force)

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.local)+len(r.snapshot))
	out = append(out, r.local...)
	seen := make(map[string]bool, len(r.local))
	for _, t := range r.local {
		seen[t.Name] = true
	}
	for _, t := range r.snapshot {
		if seen[t.Name] {
			continue
		}
		seen[t.Name] = true
		out = append(out, t)
	}
	return out
}

// Specs returns the model-facing view of List.
func (r *Registry) Specs(ctx context.Context, force bool) []llm.ToolSpec {
	ts := r.List(ctx, force)
	specs := make([]llm.ToolSpec, len(ts))
	for i, t := range ts {
		specs[i] = t.Spec()
	}
	return specs
}

// Resolve finds a tool by name. A miss triggers exactly one forced
// provider refresh before giving up with ErrToolUnavailable, so a
// service that registered new tools since the last snapshot still gets
// found without the caller orchestrating anything.
func (r *Registry) Resolve(ctx context.Context, name string) (Tool, error) {
	if t, ok := r.lookup(name); ok {
		return t, nil
	}

	r.logger.Debug("tool not in snapshot, refreshing providers", "tool", name)
	r.refresh(ctx, true)

	if t, ok := r.lookup(name); ok {
		return t, nil
	}
	return Tool{}, fmt.Errorf("tool %q: %w", name, ErrToolUnavailable)
}

// Call resolves and executes a tool. Handler failures come back as
// *ExecError; an unknown name surfaces ErrToolUnavailable.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	t, err := r.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}

	result, err := t.Handler(ctx, args)
	if err != nil {
		return nil, &ExecError{Tool: name, Err: err}
	}
	return result, nil
}

func (r *Registry) lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i, ok := r.localByName[name]; ok {
		return r.local[i], true
	}
	for _, t := range r.snapshot {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// refresh rebuilds the provider snapshot. The new slice is built
// outside the write lock and swapped in whole.
func (r *Registry) refresh(ctx context.Context, force bool) {
	r.mu.RLock()
	providers := r.providers
	haveSnapshot := r.snapshot != nil
	r.mu.RUnlock()

	if haveSnapshot && !force {
		return
	}

	fresh := make([]Tool, 0)
	for _, p := range providers {
		ts, err := p.Tools(ctx, force)
		if err != nil {
			r.logger.Warn("provider enumeration failed", "provider", p.Name(), "error", err)
			continue
		}
		fresh = append(fresh, ts...)
	}

	r.mu.Lock()
	r.snapshot = fresh
	r.mu.Unlock()
}
