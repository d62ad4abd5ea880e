package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mymeta/agent/internal/httpkit"
)

const ollamaProvider = "ollama"

// OllamaOptions configures an OllamaClient.
type OllamaOptions struct {
	BaseURL     string // e.g. http://localhost:11434
	Model       string
	Temperature float64
	Logger      *slog.Logger
	HTTPClient  *http.Client
}

// OllamaClient talks to a local Ollama server via its /api/chat
// endpoint. Unlike Ark, Ollama sends message content as a plain string
// and tool-call arguments as a JSON object directly.
type OllamaClient struct {
	opts   OllamaOptions
	http   *http.Client
	logger *slog.Logger
}

// NewOllamaClient creates a client for a local Ollama server.
func NewOllamaClient(opts OllamaOptions) *OllamaClient {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "llm", "provider", ollamaProvider)

	hc := opts.HTTPClient
	if hc == nil {
		// Local models can take minutes on first load.
		hc = httpkit.NewClient(httpkit.WithTimeout(5 * time.Minute))
	}

	return &OllamaClient{opts: opts, http: hc, logger: logger}
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []arkTool       `json:"tools,omitempty"` // same OpenAI-style shape
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error"`
}

// Chat implements [Client].
func (c *OllamaClient) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (*ChatResponse, error) {
	req := ollamaRequest{
		Model:  c.opts.Model,
		Stream: false,
	}
	if c.opts.Temperature > 0 {
		req.Options = map[string]any{"temperature": c.opts.Temperature}
	}
	for _, m := range messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			var otc ollamaToolCall
			otc.Function.Name = tc.Name
			otc.Function.Arguments = args
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		req.Messages = append(req.Messages, om)
	}
	for _, t := range tools {
		at := arkTool{Type: "function"}
		at.Function.Name = t.Name
		at.Function.Description = t.Description
		at.Function.Parameters = t.Parameters
		req.Tools = append(req.Tools, at)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &ServiceError{Provider: ollamaProvider, Message: "encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.opts.BaseURL, "/")+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &ServiceError{Provider: ollamaProvider, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &ServiceError{Provider: ollamaProvider, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, &ServiceError{Provider: ollamaProvider, Status: resp.StatusCode, Message: msg}
	}

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ServiceError{Provider: ollamaProvider, Message: "decode response", Err: err}
	}
	if parsed.Error != "" {
		return nil, &ServiceError{Provider: ollamaProvider, Message: parsed.Error}
	}

	msg := Message{Role: "assistant", Content: parsed.Message.Content}
	for _, tc := range parsed.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			Name:      tc.Function.Name,
			Arguments: DecodeArguments(tc.Function.Arguments),
		})
	}

	return &ChatResponse{
		Model:        parsed.Model,
		Message:      msg,
		InputTokens:  parsed.PromptEvalCount,
		OutputTokens: parsed.EvalCount,
	}, nil
}

// Ping implements [Client].
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(c.opts.BaseURL, "/")+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &ServiceError{Provider: ollamaProvider, Message: err.Error(), Err: err}
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)

	if resp.StatusCode != http.StatusOK {
		return &ServiceError{
			Provider: ollamaProvider,
			Status:   resp.StatusCode,
			Message:  "unexpected status from /api/tags",
		}
	}
	return nil
}
