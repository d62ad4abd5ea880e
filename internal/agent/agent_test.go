package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/mymeta/agent/internal/llm"
	"github.com/mymeta/agent/internal/tools"
)

// scriptedClient returns canned replies in order; the last reply
// repeats once the script runs out.
type scriptedClient struct {
	replies  []llm.Message
	err      error
	calls    int
	messages [][]llm.Message
}

func (c *scriptedClient) Chat(ctx context.Context, messages []llm.Message, specs []llm.ToolSpec) (*llm.ChatResponse, error) {
	c.calls++
	c.messages = append(c.messages, append([]llm.Message(nil), messages...))
	if c.err != nil {
		return nil, c.err
	}
	i := c.calls - 1
	if i >= len(c.replies) {
		i = len(c.replies) - 1
	}
	return &llm.ChatResponse{Message: c.replies[i]}, nil
}

func (c *scriptedClient) Ping(ctx context.Context) error { return nil }

func answer(text string) llm.Message {
	return llm.Message{Role: "assistant", Content: text}
}

func toolCall(name string, args map[string]any) llm.Message {
	return llm.Message{
		Role:      "assistant",
		Content:   "需要调用工具",
		ToolCalls: []llm.ToolCall{{ID: "call_1", Name: name, Arguments: args}},
	}
}

func newTestAgent(client llm.Client, cfg Config, reg *tools.Registry) *Agent {
	if reg == nil {
		reg = tools.NewRegistry(nil)
	}
	return New(client, reg, cfg, nil)
}

func TestRunDirectAnswer(t *testing.T) {
	client := &scriptedClient{replies: []llm.Message{answer("北京今天晴。")}}
	a := newTestAgent(client, Config{}, nil)

	result := a.Run(context.Background(), "今天北京天气如何？", RunOptions{})

	if result.Error != "" {
		t.Fatalf("Error = %q, want empty", result.Error)
	}
	if result.FinalAnswer != "北京今天晴。" {
		t.Errorf("FinalAnswer = %q", result.FinalAnswer)
	}
	if len(result.Steps) != 1 || result.Steps[0].FinalAnswer != result.FinalAnswer {
		t.Errorf("Steps = %+v, want one synthesized step carrying the answer", result.Steps)
	}
	if client.calls != 1 {
		t.Errorf("model calls = %d, want 1", client.calls)
	}
}

func TestRunIdentityFastPathSkipsModel(t *testing.T) {
	client := &scriptedClient{replies: []llm.Message{answer("should not be used")}}
	a := newTestAgent(client, Config{}, nil)

	for _, task := range []string{"你是谁？", "who are you?", "你好，你是什么模型", "请问你是谁"} {
		result := a.Run(context.Background(), task, RunOptions{})
		if result.Error != "" {
			t.Errorf("task %q: Error = %q", task, result.Error)
		}
		if len(result.Steps) != 1 {
			t.Errorf("task %q: len(Steps) = %d, want 1", task, len(result.Steps))
		}
		if !strings.Contains(result.FinalAnswer, strings.TrimSpace(task)) {
			t.Errorf("task %q: answer %q does not echo the question", task, result.FinalAnswer)
		}
	}
	if client.calls != 0 {
		t.Errorf("model calls = %d, want 0 for identity queries", client.calls)
	}
}

func TestRunIdentityPhraseInsideLongerTaskFallsThrough(t *testing.T) {
	client := &scriptedClient{replies: []llm.Message{answer("done")}}
	a := newTestAgent(client, Config{}, nil)

	a.Run(context.Background(), "你是谁？另外帮我整理一下这份文件", RunOptions{})

	if client.calls != 1 {
		t.Errorf("model calls = %d, want 1 (no fast path for compound task)", client.calls)
	}
}

func TestRunToolCallFoldsObservation(t *testing.T) {
	reg := tools.NewRegistry(nil)
	reg.MustRegister(tools.Tool{
		Name:        "web_search",
		Description: "searches the web",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"hits": 2}, nil
		},
	})

	client := &scriptedClient{replies: []llm.Message{
		toolCall("web_search", map[string]any{"query": "golang"}),
		answer("找到了 2 条结果。"),
	}}
	a := newTestAgent(client, Config{WorkingDir: "/tmp/work"}, reg)

	result := a.Run(context.Background(), "搜索 golang", RunOptions{})

	if result.Error != "" {
		t.Fatalf("Error = %q", result.Error)
	}
	if len(result.Steps) != 1 {
		t.Fatalf("len(Steps) = %d, want 1", len(result.Steps))
	}
	step := result.Steps[0]
	if step.Action != "web_search" || step.ActionInput["query"] != "golang" {
		t.Errorf("step = %+v", step)
	}
	obs, ok := step.Observation.(map[string]any)
	if !ok || obs["hits"] != 2 {
		t.Errorf("Observation = %v", step.Observation)
	}
	if step.ContextInfo["working_dir"] != "/tmp/work" {
		t.Errorf("ContextInfo = %v", step.ContextInfo)
	}
	if step.FinalAnswer != result.FinalAnswer {
		t.Errorf("final answer not attached to last step")
	}

	// The second model call must carry the tool-result turn.
	last := client.messages[1]
	toolTurn := last[len(last)-1]
	if toolTurn.Role != "tool" || toolTurn.ToolCallID != "call_1" {
		t.Errorf("last turn = %+v, want tool result for call_1", toolTurn)
	}
	if !strings.Contains(toolTurn.Content, `"hits":2`) {
		t.Errorf("tool turn content = %q", toolTurn.Content)
	}
}

func TestRunToolNotFoundIsFatal(t *testing.T) {
	client := &scriptedClient{replies: []llm.Message{
		toolCall("ghost_tool", nil),
		answer("should never be reached"),
	}}
	a := newTestAgent(client, Config{}, nil)

	result := a.Run(context.Background(), "调用幽灵工具", RunOptions{})

	if result.Error == "" || !strings.Contains(result.Error, "ghost_tool") {
		t.Fatalf("Error = %q, want tool-not-found naming ghost_tool", result.Error)
	}
	if result.ErrorKind != ErrorKindToolNotFound {
		t.Errorf("ErrorKind = %q, want %q", result.ErrorKind, ErrorKindToolNotFound)
	}
	if client.calls != 1 {
		t.Errorf("model calls = %d, want 1 (no calls after fatal step)", client.calls)
	}
	obs, ok := result.Steps[0].Observation.(map[string]any)
	if !ok || obs["error"] == nil {
		t.Errorf("Observation = %v, want error object", result.Steps[0].Observation)
	}
}

func TestRunToolExecutionErrorIsRecoverable(t *testing.T) {
	reg := tools.NewRegistry(nil)
	reg.MustRegister(tools.Tool{
		Name: "flaky",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, fmt.Errorf("connection reset")
		},
	})

	client := &scriptedClient{replies: []llm.Message{
		toolCall("flaky", nil),
		answer("工具失败了，但我可以直接回答。"),
	}}
	a := newTestAgent(client, Config{}, reg)

	result := a.Run(context.Background(), "试试工具", RunOptions{})

	if result.Error != "" {
		t.Fatalf("Error = %q, want empty (recoverable)", result.Error)
	}
	if client.calls != 2 {
		t.Errorf("model calls = %d, want 2 (model continues after tool failure)", client.calls)
	}
	obs, ok := result.Steps[0].Observation.(map[string]any)
	if !ok {
		t.Fatalf("Observation = %T", result.Steps[0].Observation)
	}
	if _, has := obs["error"]; !has {
		t.Errorf("Observation = %v, want error key", obs)
	}
}

func TestRunStopOnToolErrorIsFatal(t *testing.T) {
	reg := tools.NewRegistry(nil)
	reg.MustRegister(tools.Tool{
		Name: "flaky",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, fmt.Errorf("boom")
		},
	})

	client := &scriptedClient{replies: []llm.Message{toolCall("flaky", nil)}}
	a := newTestAgent(client, Config{StopOnToolError: true}, reg)

	result := a.Run(context.Background(), "试试工具", RunOptions{})

	if result.Error == "" {
		t.Fatal("Error empty, want tool failure with stop_on_tool_error")
	}
	if result.ErrorKind != ErrorKindToolFailed {
		t.Errorf("ErrorKind = %q, want %q", result.ErrorKind, ErrorKindToolFailed)
	}
	if client.calls != 1 {
		t.Errorf("model calls = %d, want 1", client.calls)
	}
}

func TestRunBackendErrorAbortsImmediately(t *testing.T) {
	client := &scriptedClient{err: &llm.ServiceError{Provider: "ark", Status: 500, Message: "upstream down"}}
	a := newTestAgent(client, Config{}, nil)

	result := a.Run(context.Background(), "任意任务", RunOptions{})

	if result.Error == "" || !strings.Contains(result.Error, "LLM服务调用失败") {
		t.Fatalf("Error = %q, want backend failure message", result.Error)
	}
	if result.ErrorKind != ErrorKindBackend {
		t.Errorf("ErrorKind = %q, want %q", result.ErrorKind, ErrorKindBackend)
	}
	if result.FinalAnswer != "" {
		t.Errorf("FinalAnswer = %q, want empty", result.FinalAnswer)
	}
	if client.calls != 1 {
		t.Errorf("model calls = %d, want 1", client.calls)
	}
}

func TestRunBudgetExhaustionCarriesAnswerAndError(t *testing.T) {
	reg := tools.NewRegistry(nil)
	reg.MustRegister(tools.Tool{
		Name: "busy",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"status": "working"}, nil
		},
	})

	// The model always wants another tool call and never answers.
	client := &scriptedClient{replies: []llm.Message{toolCall("busy", nil)}}
	a := newTestAgent(client, Config{MaxIterations: 3}, reg)

	result := a.Run(context.Background(), "永不结束的任务", RunOptions{})

	if client.calls != 3 {
		t.Errorf("model calls = %d, want exactly 3", client.calls)
	}
	if result.Error != "达到最大迭代次数但未获得最终答案" {
		t.Errorf("Error = %q", result.Error)
	}
	if result.ErrorKind != ErrorKindBudget {
		t.Errorf("ErrorKind = %q, want %q", result.ErrorKind, ErrorKindBudget)
	}
	if !strings.Contains(result.FinalAnswer, "working") {
		t.Errorf("FinalAnswer = %q, want last observation surfaced", result.FinalAnswer)
	}
}

func TestRunSingleEmptyReplyContinues(t *testing.T) {
	client := &scriptedClient{replies: []llm.Message{
		answer(""),
		answer("第二次有内容了。"),
	}}
	a := newTestAgent(client, Config{}, nil)

	result := a.Run(context.Background(), "有点难的问题", RunOptions{})

	if result.Error != "" {
		t.Fatalf("Error = %q", result.Error)
	}
	if result.FinalAnswer != "第二次有内容了。" {
		t.Errorf("FinalAnswer = %q", result.FinalAnswer)
	}
	if client.calls != 2 {
		t.Errorf("model calls = %d, want 2", client.calls)
	}
}

func TestRunRepeatedEmptyRepliesFallBackWithoutError(t *testing.T) {
	client := &scriptedClient{replies: []llm.Message{answer("")}}
	a := newTestAgent(client, Config{MaxIterations: 10}, nil)

	result := a.Run(context.Background(), "有点难的问题", RunOptions{})

	if result.Error != "" {
		t.Fatalf("Error = %q, want empty (fallback is not an error)", result.Error)
	}
	if !strings.Contains(result.FinalAnswer, "抱歉") {
		t.Errorf("FinalAnswer = %q, want apologetic fallback", result.FinalAnswer)
	}
	if client.calls != 2 {
		t.Errorf("model calls = %d, want 2 (terminate on the second consecutive empty reply)", client.calls)
	}
}

func TestRunInjectsReminderOnce(t *testing.T) {
	reg := tools.NewRegistry(nil)
	reg.MustRegister(tools.Tool{
		Name: "busy",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return "ok", nil
		},
	})

	client := &scriptedClient{replies: []llm.Message{toolCall("busy", nil)}}
	a := newTestAgent(client, Config{MaxIterations: 5}, reg)

	a.Run(context.Background(), "长任务", RunOptions{})

	reminders := 0
	final := client.messages[len(client.messages)-1]
	for _, m := range final {
		if m.Role == "user" && strings.Contains(m.Content, "次迭代机会") {
			reminders++
		}
	}
	if reminders != 1 {
		t.Errorf("reminder turns = %d, want exactly 1", reminders)
	}
}

func TestRunNoReminderWithoutPriorSteps(t *testing.T) {
	client := &scriptedClient{replies: []llm.Message{answer("快速回答")}}
	a := newTestAgent(client, Config{MaxIterations: 2}, nil)

	a.Run(context.Background(), "简单问题", RunOptions{})

	for _, m := range client.messages[0] {
		if strings.Contains(m.Content, "次迭代机会") {
			t.Error("reminder injected on first iteration with no steps")
		}
	}
}

func TestRunPriorHistoryPrecedesTask(t *testing.T) {
	client := &scriptedClient{replies: []llm.Message{answer("记得")}}
	a := newTestAgent(client, Config{}, nil)

	a.Run(context.Background(), "我刚才说了什么？", RunOptions{
		History: []llm.Message{
			{Role: "user", Content: "我喜欢喝咖啡"},
			{Role: "assistant", Content: "好的，记住了"},
		},
	})

	sent := client.messages[0]
	if len(sent) != 4 {
		t.Fatalf("len(messages) = %d, want system + 2 history + task", len(sent))
	}
	if sent[1].Content != "我喜欢喝咖啡" || sent[2].Role != "assistant" {
		t.Errorf("history not preserved: %+v", sent[1:3])
	}
	if !strings.Contains(sent[3].Content, "不要重复执行") {
		t.Errorf("task turn missing no-repeat instruction: %q", sent[3].Content)
	}
}

func TestRunSequentialToolCallsInOneReply(t *testing.T) {
	var order []string
	reg := tools.NewRegistry(nil)
	for _, name := range []string{"first", "second"} {
		name := name
		reg.MustRegister(tools.Tool{
			Name: name,
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				order = append(order, name)
				return "ok", nil
			},
		})
	}

	multi := llm.Message{
		Role: "assistant",
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "first"},
			{ID: "c2", Name: "second"},
		},
	}
	client := &scriptedClient{replies: []llm.Message{multi, answer("完成")}}
	a := newTestAgent(client, Config{}, reg)

	result := a.Run(context.Background(), "两步任务", RunOptions{})

	if result.Error != "" {
		t.Fatalf("Error = %q", result.Error)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("execution order = %v, want [first second]", order)
	}
	if len(result.Steps) != 2 {
		t.Errorf("len(Steps) = %d, want 2", len(result.Steps))
	}
}

func TestCoerceObservation(t *testing.T) {
	if got := coerceObservation("plain"); got != "plain" {
		t.Errorf("string: %v", got)
	}

	m := map[string]any{"k": "v"}
	if got := coerceObservation(m); got.(map[string]any)["k"] != "v" {
		t.Errorf("map: %v", got)
	}

	seq, ok := coerceObservation([]string{"a", "b"}).([]any)
	if !ok || len(seq) != 2 || seq[0] != "a" {
		t.Errorf("slice: %v", seq)
	}

	wrapped, ok := coerceObservation(42).(map[string]any)
	if !ok || wrapped["text"] != "42" {
		t.Errorf("scalar: %v", wrapped)
	}
}

func TestIsIdentityQuery(t *testing.T) {
	positive := []string{
		"你是谁", "你是谁？", "您是谁。", "你好，你是谁",
		"请问你是什么模型", "who are you", "Who are you?",
		"what model do you use?", "在吗，你是什么ai",
	}
	for _, task := range positive {
		if !isIdentityQuery(task) {
			t.Errorf("isIdentityQuery(%q) = false, want true", task)
		}
	}

	negative := []string{
		"", "你是谁；顺便查下天气", "帮我写一封邮件",
		"who are you and what can you do",
		"你是谁写的代码", "what is the weather",
	}
	for _, task := range negative {
		if isIdentityQuery(task) {
			t.Errorf("isIdentityQuery(%q) = true, want false", task)
		}
	}
}
