package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mymeta/agent/internal/config"
	"github.com/mymeta/agent/internal/httpkit"
)

const arkProvider = "ark"

// ArkOptions configures an ArkClient.
type ArkOptions struct {
	APIKey          string
	Model           string
	BaseURL         string // e.g. https://ark.cn-beijing.volces.com/api/v3
	Timeout         time.Duration
	Temperature     float64
	MaxOutputTokens int
	Logger          *slog.Logger

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// ArkClient talks to the Volcano Ark chat-completions endpoint
// (Doubao models). Requests carry message content as typed text
// fragments and disable the provider's thinking mode; responses may
// return content either as a plain string or as a fragment list, and
// tool-call arguments arrive JSON-encoded inside a string.
type ArkClient struct {
	opts   ArkOptions
	http   *http.Client
	logger *slog.Logger
}

// NewArkClient creates a client for the Ark backend.
func NewArkClient(opts ArkOptions) *ArkClient {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "llm", "provider", arkProvider)

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		)
	}

	return &ArkClient{opts: opts, http: hc, logger: logger}
}

// Wire types for the Ark chat-completions format.

type arkFragment struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type arkFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON object, string-encoded
}

type arkToolCall struct {
	ID       string      `json:"id,omitempty"`
	Type     string      `json:"type"`
	Function arkFunction `json:"function"`
}

type arkMessage struct {
	Role       string        `json:"role"`
	Content    []arkFragment `json:"content"`
	ToolCalls  []arkToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type arkTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type arkThinking struct {
	Type string `json:"type"`
}

type arkRequest struct {
	Model       string       `json:"model"`
	Messages    []arkMessage `json:"messages"`
	Temperature float64      `json:"temperature,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Thinking    *arkThinking `json:"thinking,omitempty"`
	Tools       []arkTool    `json:"tools,omitempty"`
}

// arkContent accepts both response content shapes: a plain string or a
// list of text fragments (concatenated in order).
type arkContent string

func (c *arkContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = arkContent(s)
		return nil
	}

	var fragments []arkFragment
	if err := json.Unmarshal(data, &fragments); err == nil {
		var b strings.Builder
		for _, f := range fragments {
			b.WriteString(f.Text)
		}
		*c = arkContent(b.String())
		return nil
	}

	if string(data) == "null" {
		*c = ""
		return nil
	}
	return fmt.Errorf("unexpected content shape: %s", string(data))
}

type arkRespToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type arkResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role      string            `json:"role"`
			Content   arkContent        `json:"content"`
			ToolCalls []arkRespToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Chat implements [Client].
func (c *ArkClient) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (*ChatResponse, error) {
	req := arkRequest{
		Model:       c.opts.Model,
		Messages:    encodeArkMessages(messages),
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxOutputTokens,
		Thinking:    &arkThinking{Type: "disabled"},
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
		return nil, &ServiceError{Provider: arkProvider, Message: "encode request", Err: err}
	}

	c.logger.Log(ctx, config.LevelTrace, "ark request", "body", string(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.opts.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &ServiceError{Provider: arkProvider, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &ServiceError{Provider: arkProvider, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, &ServiceError{Provider: arkProvider, Status: resp.StatusCode, Message: msg}
	}

	var parsed arkResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ServiceError{Provider: arkProvider, Message: "decode response", Err: err}
	}
	if parsed.Error != nil {
		return nil, &ServiceError{Provider: arkProvider, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return nil, &ServiceError{Provider: arkProvider, Message: "response contained no choices"}
	}

	choice := parsed.Choices[0].Message
	msg := Message{
		Role:    "assistant",
		Content: string(choice.Content),
	}
	for _, tc := range choice.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: DecodeArguments(tc.Function.Arguments),
		})
	}

	c.logger.Log(ctx, config.LevelTrace, "ark response",
		"content_len", len(msg.Content),
		"tool_calls", len(msg.ToolCalls),
		"input_tokens", parsed.Usage.PromptTokens,
		"output_tokens", parsed.Usage.CompletionTokens,
	)

	model := parsed.Model
	if model == "" {
		model = c.opts.Model
	}
	return &ChatResponse{
		Model:        model,
		Message:      msg,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}

// Ping implements [Client]. Any HTTP response from the endpoint counts
// as reachable; only transport failures are errors.
func (c *ArkClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &ServiceError{Provider: arkProvider, Message: err.Error(), Err: err}
	}
	httpkit.DrainAndClose(resp.Body, 1024)
	return nil
}

// encodeArkMessages converts neutral messages to Ark wire shape:
// content becomes a single-element text fragment list, and tool-call
// arguments are re-encoded as JSON strings.
func encodeArkMessages(messages []Message) []arkMessage {
	out := make([]arkMessage, 0, len(messages))
	for _, m := range messages {
		am := arkMessage{
			Role:       m.Role,
			Content:    []arkFragment{{Type: "text", Text: m.Content}},
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			am.ToolCalls = append(am.ToolCalls, arkToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: arkFunction{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, am)
	}
	return out
}
