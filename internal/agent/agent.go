// Package agent implements the tool-augmented reasoning loop: it asks
// the model whether to call a tool or answer, executes requested tools,
// folds observations back into the conversation, and repeats under a
// bounded iteration budget.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mymeta/agent/internal/llm"
	"github.com/mymeta/agent/internal/prompts"
	"github.com/mymeta/agent/internal/tools"
)

// Config holds the reasoning-loop knobs.
type Config struct {
	// MaxIterations bounds the number of model round trips per run.
	MaxIterations int

	// WorkingDir is surfaced to tools through step context info.
	WorkingDir string

	// StopOnToolError makes tool execution failures fatal instead of
	// folding them back into the conversation.
	StopOnToolError bool
}

// Step records one reasoning increment. Steps are appended in order and
// never mutated except for attaching the final answer to the last one.
type Step struct {
	Thought     string         `json:"thought"`
	Action      string         `json:"action,omitempty"`
	ActionInput map[string]any `json:"action_input,omitempty"`
	Observation any            `json:"observation,omitempty"`
	FinalAnswer string         `json:"final_answer,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	ContextInfo map[string]any `json:"context_info,omitempty"`
}

// ErrorKind classifies a terminal failure independently of the
// user-facing message text, so callers branch on the kind rather than
// on the wording.
type ErrorKind string

const (
	ErrorKindNone         ErrorKind = ""
	ErrorKindBackend      ErrorKind = "backend"
	ErrorKindInternal     ErrorKind = "internal"
	ErrorKindToolNotFound ErrorKind = "tool_not_found"
	ErrorKindToolFailed   ErrorKind = "tool_failed"
	ErrorKindBudget       ErrorKind = "budget_exhausted"
)

// Result aggregates one run. FinalAnswer and Error are usually
// mutually exclusive; a budget-exhausted run intentionally carries
// both: a best-effort answer plus the budget error.
type Result struct {
	Task        string `json:"task"`
	Steps       []Step `json:"steps"`
	FinalAnswer string `json:"final_answer,omitempty"`
	Error       string `json:"error,omitempty"`

	// ErrorKind mirrors Error for programmatic callers; it stays off
	// the wire.
	ErrorKind ErrorKind `json:"-"`
}

// RunOptions carries per-run extras.
type RunOptions struct {
	// Context is free text appended to the task.
	Context string

	// History is prior conversation, used as background only. Roles
	// system, user and assistant pass through; anything else is
	// treated as user text.
	History []llm.Message
}

// Agent drives the reasoning loop against a model client and a tool
// registry. One Agent serves many concurrent runs; all per-run state
// lives on the stack of Run.
type Agent struct {
	client   llm.Client
	registry *tools.Registry
	cfg      Config
	logger   *slog.Logger

	now func() time.Time
}

// New creates an agent. A zero MaxIterations defaults to 15.
func New(client llm.Client, registry *tools.Registry, cfg Config, logger *slog.Logger) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 15
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		client:   client,
		registry: registry,
		cfg:      cfg,
		logger:   logger.With("component", "agent"),
		now:      time.Now,
	}
}

// Run executes one task to completion.
func (a *Agent) Run(ctx context.Context, task string, opts RunOptions) *Result {
	result := &Result{Task: task}

	// Identity questions get a canned answer without touching the
	// model; only an exact match after normalization qualifies.
	if isIdentityQuery(task) {
		result.FinalAnswer = identityAnswer(task)
		result.Steps = append(result.Steps, Step{
			Thought:     "检测到模型或身份相关的独立问题，返回固定介绍。",
			FinalAnswer: result.FinalAnswer,
		})
		return result
	}

	inventory := a.registry.List(ctx, false)
	specs := make([]llm.ToolSpec, len(inventory))
	summaries := make([]prompts.ToolSummary, len(inventory))
	for i, t := range inventory {
		specs[i] = t.Spec()
		summaries[i] = prompts.ToolSummary{Name: t.Name, Description: t.Description}
	}

	messages := []llm.Message{{Role: "system", Content: prompts.System(summaries)}}
	for _, m := range opts.History {
		switch m.Role {
		case "system", "assistant":
			messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
		default:
			messages = append(messages, llm.Message{Role: "user", Content: m.Content})
		}
	}
	messages = append(messages, llm.Message{
		Role:    "user",
		Content: prompts.TaskMessage(task, opts.Context),
	})

	reminderAdded := false
	for iteration := 0; iteration < a.cfg.MaxIterations; iteration++ {
		remaining := a.cfg.MaxIterations - iteration
		if remaining <= 3 && remaining > 0 && len(result.Steps) > 0 && !reminderAdded {
			messages = append(messages, llm.Message{
				Role:    "user",
				Content: prompts.Reminder(remaining),
			})
			reminderAdded = true
		}

		resp, err := a.client.Chat(ctx, messages, specs)
		if err != nil {
			var svcErr *llm.ServiceError
			if errors.As(err, &svcErr) {
				result.Error = fmt.Sprintf("LLM服务调用失败：%v", err)
				result.ErrorKind = ErrorKindBackend
			} else {
				result.Error = fmt.Sprintf("Agent执行失败：%v", err)
				result.ErrorKind = ErrorKindInternal
			}
			a.logger.Error("model call failed", "error", err, "iteration", iteration)
			return result
		}

		reply := resp.Message
		messages = append(messages, reply)

		if len(reply.ToolCalls) > 0 {
			if done := a.runToolCalls(ctx, reply, result, &messages); done {
				return result
			}
			continue
		}

		output := strings.TrimSpace(reply.Content)
		if output == "" {
			if a.recordEmptyReply(result) {
				return result
			}
			continue
		}

		result.FinalAnswer = output
		if n := len(result.Steps); n > 0 {
			result.Steps[n-1].FinalAnswer = output
		} else {
			result.Steps = append(result.Steps, Step{
				Thought:     "无需调用工具，直接基于任务生成答案",
				FinalAnswer: output,
			})
		}
		return result
	}

	// Budget exhausted: surface the last observation if there is one,
	// and set the error alongside the best-effort answer.
	if n := len(result.Steps); n > 0 && result.Steps[n-1].Observation != nil {
		obs, err := json.Marshal(result.Steps[n-1].Observation)
		if err != nil {
			obs = []byte(fmt.Sprint(result.Steps[n-1].Observation))
		}
		result.FinalAnswer = fmt.Sprintf("已完成相关操作，但未获得明确的文本回复。最后一步的结果：%s", obs)
	} else {
		result.FinalAnswer = "已达到最大迭代次数，但未获得最终答案。请尝试重新表述您的问题。"
	}
	result.Error = "达到最大迭代次数但未获得最终答案"
	result.ErrorKind = ErrorKindBudget
	a.logger.Error("iteration budget exhausted", "max_iterations", a.cfg.MaxIterations)
	return result
}

// runToolCalls executes the reply's tool calls in request order. Later
// calls may depend on earlier results, so no reordering. Returns true
// when the run must terminate.
func (a *Agent) runToolCalls(ctx context.Context, reply llm.Message, result *Result, messages *[]llm.Message) bool {
	for _, call := range reply.ToolCalls {
		now := a.now()
		thought := reply.Content
		if thought == "" {
			thought = "模型选择调用工具"
		}
		step := Step{
			Thought:     thought,
			Action:      call.Name,
			ActionInput: call.Arguments,
			Timestamp:   now.Format(time.RFC3339),
			ContextInfo: map[string]any{
				"current_time":          now.Format(time.RFC3339),
				"current_time_readable": now.Format("2006-01-02 15:04:05"),
				"working_dir":           a.cfg.WorkingDir,
			},
		}

		observation, err := a.registry.Call(ctx, call.Name, call.Arguments)
		if err != nil {
			if errors.Is(err, tools.ErrToolUnavailable) {
				// A name the registry cannot resolve means stale or
				// hallucinated tooling; retrying cannot fix it.
				msg := fmt.Sprintf("未找到名为 %s 的工具", call.Name)
				step.Observation = map[string]any{"error": msg}
				result.Steps = append(result.Steps, step)
				result.Error = msg
				result.ErrorKind = ErrorKindToolNotFound
				a.logger.Error("tool not found", "tool", call.Name)
				return true
			}

			payload := map[string]any{"error": err.Error()}
			step.Observation = payload
			result.Steps = append(result.Steps, step)
			a.logger.Error("tool execution failed", "tool", call.Name, "error", err)

			if a.cfg.StopOnToolError {
				result.Error = fmt.Sprintf("工具执行失败：%v", err)
				result.ErrorKind = ErrorKindToolFailed
				return true
			}

			// Fold the failure back so the model can route around it.
			*messages = append(*messages, toolResultMessage(call, payload))
			continue
		}

		payload := coerceObservation(observation)
		step.Observation = payload
		result.Steps = append(result.Steps, step)
		*messages = append(*messages, toolResultMessage(call, payload))
	}
	return false
}

// recordEmptyReply handles a reply with neither text nor tool calls.
// One empty reply is tolerated; a second consecutive one terminates the
// run with the fixed fallback. Returns true on termination.
func (a *Agent) recordEmptyReply(result *Result) bool {
	if n := len(result.Steps); n > 0 && strings.Contains(result.Steps[n-1].Thought, "模型返回空内容") {
		result.FinalAnswer = "抱歉，我暂时无法生成回复。请尝试重新表述您的问题，或检查网络连接。"
		result.Steps = append(result.Steps, Step{
			Thought:     "模型连续返回空内容，给出默认回复",
			FinalAnswer: result.FinalAnswer,
		})
		a.logger.Warn("consecutive empty model replies, returning fallback")
		return true
	}

	result.Steps = append(result.Steps, Step{Thought: "模型返回空内容，继续尝试"})
	a.logger.Warn("empty model reply, continuing")
	return false
}

// toolResultMessage builds the tool-result turn for an observation.
// Maps and slices are serialized as JSON; strings pass through.
func toolResultMessage(call llm.ToolCall, payload any) llm.Message {
	var content string
	switch v := payload.(type) {
	case string:
		content = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			content = fmt.Sprint(v)
		} else {
			content = string(data)
		}
	}
	return llm.Message{
		Role:       "tool",
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    content,
	}
}

// coerceObservation normalizes a tool's return value: strings and maps
// pass through, sequences re-serialize through JSON, and anything else
// is wrapped as {"text": stringified}.
func coerceObservation(observation any) any {
	switch v := observation.(type) {
	case nil:
		return map[string]any{"text": ""}
	case string:
		return v
	case map[string]any:
		return v
	}

	data, err := json.Marshal(observation)
	if err != nil {
		return map[string]any{"text": fmt.Sprint(observation)}
	}

	var seq []any
	if err := json.Unmarshal(data, &seq); err == nil {
		return seq
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err == nil {
		return obj
	}
	return map[string]any{"text": fmt.Sprint(observation)}
}
