package llm

import (
	"context"
)

// ToolSpec describes a callable tool in the form providers advertise to
// the model: a name, a human description, and a JSON Schema for the
// arguments object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Client is a chat-capable model backend.
type Client interface {
	// Chat sends the conversation and the available tools, returning
	// the model's next turn. A nil error means the Message is usable;
	// backend failures are reported as *ServiceError.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (*ChatResponse, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}
