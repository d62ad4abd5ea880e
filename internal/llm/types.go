// Package llm provides chat-model client implementations.
//
// All providers translate to and from the neutral [Message] and
// [ChatResponse] types; wire-format conversion happens entirely at
// provider boundaries (ark.go, ollama.go).
package llm

import (
	"encoding/json"
	"fmt"
)

// Message is one role-tagged conversation turn.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for tool-result turns
	Name       string     `json:"name,omitempty"`         // tool name, for tool-result turns
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResponse is the unified response from any provider.
type ChatResponse struct {
	Model   string
	Message Message

	InputTokens  int
	OutputTokens int
}

// ServiceError is returned when the backing model service fails:
// transport errors, non-2xx statuses, and malformed response payloads.
// It is fatal to an agent run.
type ServiceError struct {
	Provider string
	Status   int // HTTP status, 0 for transport failures
	Message  string
	Err      error
}

func (e *ServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s service error (status %d): %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s service error: %s", e.Provider, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// DecodeArguments normalizes a tool-call argument payload. Providers
// deliver arguments as a JSON object, a JSON-encoded string containing
// an object, or free text. The result is always a non-nil map: a
// payload that cannot be parsed as an object is wrapped as
// {"text": original}.
func DecodeArguments(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj == nil {
			return map[string]any{}
		}
		return obj
	}

	// A string payload may itself contain JSON.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return map[string]any{}
		}
		if err := json.Unmarshal([]byte(s), &obj); err == nil && obj != nil {
			return obj
		}
		return map[string]any{"text": s}
	}

	return map[string]any{"text": string(raw)}
}
