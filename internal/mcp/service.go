package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mymeta/agent/internal/config"
	"github.com/mymeta/agent/internal/tools"
)

// Service exposes one process-backed tool service to the agent. It
// implements tools.Provider, so its discovered tools appear in the
// registry alongside native ones.
//
// Two execution strategies exist:
//
//   - spawn: a fresh subprocess per call, with the handshake repeated
//     each time. Slow, but a wedged or leaky service cannot poison
//     later calls.
//   - pooled: one long-lived subprocess reused across calls. The
//     process is dropped and respawned after any transport failure.
type Service struct {
	cfg    config.ServiceConfig
	logger *slog.Logger

	// open creates an initialized client; tests replace it.
	open func(ctx context.Context) (*Client, error)

	// spawnSlots bounds concurrent subprocesses for the spawn
	// strategy.
	spawnSlots chan struct{}

	mu     sync.Mutex
	client *Client // pooled strategy only
	defs   []ToolDefinition
}

const defaultSpawnConcurrency = 4

// NewService creates a service from its configuration. No process is
// started until tools are listed or called.
func NewService(cfg config.ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mcp", "service", cfg.Name)

	slots := cfg.MaxConcurrent
	if slots <= 0 {
		slots = defaultSpawnConcurrency
	}

	s := &Service{
		cfg:        cfg,
		logger:     logger,
		spawnSlots: make(chan struct{}, slots),
	}
	s.open = func(ctx context.Context) (*Client, error) {
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		transport := NewProcTransport(ProcConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     env,
			Logger:  logger,
		})
		client := NewClient(cfg.Name, transport, logger)
		if err := client.Initialize(ctx); err != nil {
			client.Close()
			return nil, err
		}
		return client, nil
	}
	return s
}

// Name implements tools.Provider.
func (s *Service) Name() string { return s.cfg.Name }

// Tools implements tools.Provider: it lists the service's tools and
// wraps each as a registry tool whose handler routes back through Call.
// Definitions are cached until a forced refresh.
func (s *Service) Tools(ctx context.Context, force bool) ([]tools.Tool, error) {
	s.mu.Lock()
	defs := s.defs
	s.mu.Unlock()

	if defs == nil || force {
		fresh, err := s.listTools(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.defs = fresh
		s.mu.Unlock()
		defs = fresh
	}

	out := make([]tools.Tool, 0, len(defs))
	for _, def := range defs {
		def := def
		out = append(out, tools.Tool{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.InputSchema,
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return s.Call(ctx, def.Name, args)
			},
		})
	}
	return out, nil
}

// Call invokes one tool on the service, bounded by the configured
// per-call timeout. A result the service marks as an error comes back
// as a plain error: the call executed, the model can react to it.
func (s *Service) Call(ctx context.Context, tool string, args map[string]any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout())
	defer cancel()

	var result *CallResult
	err := s.withClient(ctx, func(c *Client) error {
		var callErr error
		result, callErr = c.CallTool(ctx, tool, args)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	if result.IsError {
		return nil, fmt.Errorf("service %s: %s", s.cfg.Name, result.Text)
	}

	// Prefer structured output when the service provides it.
	if len(result.Structured) > 0 {
		var structured any
		if err := json.Unmarshal(result.Structured, &structured); err == nil {
			return structured, nil
		}
	}
	return result.Text, nil
}

// Close stops the pooled subprocess, if any.
func (s *Service) Close() error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

// listTools queries the service's tool inventory, bounded by the same
// per-call timeout as Call: a wedged worker must not block discovery.
func (s *Service) listTools(ctx context.Context) ([]ToolDefinition, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout())
	defer cancel()

	var defs []ToolDefinition
	err := s.withClient(ctx, func(c *Client) error {
		var listErr error
		defs, listErr = c.ListTools(ctx)
		return listErr
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("discovered service tools", "count", len(defs))
	return defs, nil
}

// withClient runs fn against a client appropriate to the strategy.
func (s *Service) withClient(ctx context.Context, fn func(*Client) error) error {
	if s.cfg.Strategy == "pooled" {
		client, err := s.pooledClient(ctx)
		if err != nil {
			return err
		}
		if err := fn(client); err != nil {
			// Transport state is suspect; respawn on next call.
			s.dropClient(client)
			return err
		}
		return nil
	}

	// spawn: short-lived client per call, bounded so a burst of
	// calls cannot fork without limit.
	select {
	case s.spawnSlots <- struct{}{}:
		defer func() { <-s.spawnSlots }()
	case <-ctx.Done():
		return ctx.Err()
	}

	client, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func (s *Service) pooledClient(ctx context.Context) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	client, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	s.client = client
	return client, nil
}

func (s *Service) dropClient(client *Client) {
	s.mu.Lock()
	if s.client == client {
		s.client = nil
	}
	s.mu.Unlock()
	client.Close()
}
