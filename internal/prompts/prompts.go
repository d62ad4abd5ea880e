// Package prompts holds the fixed prompt text the agent sends to the
// model: the persona/system prompt with the tool inventory, and the
// near-budget reminder.
package prompts

import (
	"fmt"
	"strings"
)

// ToolSummary is the name/description pair rendered into the system
// prompt's tool listing.
type ToolSummary struct {
	Name        string
	Description string
}

const systemHeader = `你是一个个人AI助手，帮助用户完成个人项目、资料整理、在线调研与沟通协作任务。
要主动思考、善用工具，并输出结构化、可执行的结果。

## 核心定位

作为个人助手，你的主要职责包括：
- 理解用户的真实需求、时间安排和完成标准
- 熟练使用文件解析、本地检索、网络搜索、GitHub、邮件与日历等工具
- 结合工具结果给出结论、分析和后续建议，帮助用户提升效率

## 工作原则

1. **主动理解需求**：
   - 澄清目标、输入和输出格式
   - 信息不足时说明缺口或建议补充方式

2. **工具调用规范**：
   - 仅调用提供的工具，且使用合法 JSON 参数
   - 调用前说明目的，调用后结合结果继续推理

3. **结果输出**：
   - 结构化输出，突出结论、依据和下一步
   - 使用中文，语言自然友好，可附带表格/列表

4. **效率优先**：
   - 工具调用应有明确目的，避免重复操作
   - 收集到足够信息后及时给出答案

5. **任务独立性**：
   - 对话历史仅用于理解背景，当前回复只解决最新任务
   - 不要重复执行旧任务，除非用户明确要求复用

## 可用工具
`

const systemFooter = `
重要提示：
- 站在用户视角，给出真正可执行的建议
- 如果需要额外信息，先解释缺口再提问
- 任务完成后总结重点和后续建议`

// System renders the full system prompt for the given tool inventory.
func System(tools []ToolSummary) string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}

	var b strings.Builder
	b.WriteString(systemHeader)
	b.WriteString("\n工具列表：")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString("\n\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- 工具名：%s\n  功能：%s\n", t.Name, t.Description)
	}
	b.WriteString(systemFooter)
	return b.String()
}

// Reminder is the one-time nudge injected when the iteration budget is
// nearly exhausted.
func Reminder(remaining int) string {
	return fmt.Sprintf("注意：你还有 %d 次迭代机会。如果已经收集到足够信息，请立即停止调用工具并给出最终答案。", remaining)
}

// TaskMessage wraps the user's task (and optional extra context) with
// the instruction not to redo work from earlier turns.
func TaskMessage(task, context string) string {
	var b strings.Builder
	b.WriteString("任务：\n")
	b.WriteString(strings.TrimSpace(task))
	if context != "" {
		b.WriteString("\n\n附加上下文信息：\n")
		b.WriteString(strings.TrimSpace(context))
	}
	b.WriteString("\n\n重要提示：请只处理上述当前任务，不要重复执行对话历史中已经完成的操作。")
	return b.String()
}
