package agent

import (
	"fmt"
	"regexp"
	"strings"
)

// The fast path answers "who/what are you" questions without a model
// call. Matching is deliberately strict: only a task that consists
// entirely of such a question (after stripping greetings and trailing
// punctuation) qualifies; anything with additional content falls
// through to the full loop.

var (
	greetingRe   = regexp.MustCompile(`(?i)^(?:你好|您好|在吗|hi|hello|hey)[,，\s]*`)
	politenessRe = regexp.MustCompile(`^(?:请问|想了解一下)[,，\s]*`)
	newlineRe    = regexp.MustCompile(`[\r\n]+`)
	trailingRe   = regexp.MustCompile(`[？?。.!]+$`)
	compactRe    = regexp.MustCompile(`[，,：:\s]`)
)

var chineseIdentityQueries = map[string]bool{
	"你是谁": true, "你是谁呀": true, "你是谁呢": true,
	"你是哪个模型": true, "你是什么模型": true, "你是什么ai": true, "你是什么": true,
	"您是谁": true, "您是什么模型": true, "请介绍你自己": true,
}

var englishIdentityQueries = map[string]bool{
	"whoareyou": true, "whatareyou": true, "whatmodelareyou": true,
	"whatmodeldoyouuse": true, "whatareyoumodel": true, "whatai": true,
	"whatareyouai": true, "whichmodelareyou": true,
}

var englishIdentityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^who are you\??$`),
	regexp.MustCompile(`^what model (?:are you|do you use)\??$`),
	regexp.MustCompile(`^what ai (?:are you)?\??$`),
	regexp.MustCompile(`^which model (?:are you|do you use)\??$`),
}

// isIdentityQuery reports whether the entire task is a standalone
// identity question.
func isIdentityQuery(task string) bool {
	text := strings.TrimSpace(task)
	if text == "" {
		return false
	}

	text = greetingRe.ReplaceAllString(text, "")
	text = politenessRe.ReplaceAllString(text, "")
	text = newlineRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(trailingRe.ReplaceAllString(text, ""))
	if text == "" {
		return false
	}

	// Internal separators mean the question is embedded in a longer task.
	if strings.ContainsAny(text, "；;\n") {
		return false
	}

	compact := strings.ToLower(compactRe.ReplaceAllString(text, ""))
	if compact == "" {
		return false
	}
	if chineseIdentityQueries[compact] || englishIdentityQueries[compact] {
		return true
	}

	lower := strings.ToLower(text)
	for _, p := range englishIdentityPatterns {
		if p.MatchString(lower) {
			return true
		}
	}
	return false
}

// identityAnswer renders the canned introduction, echoing the cleaned
// question back to the user.
func identityAnswer(task string) string {
	return fmt.Sprintf(
		"您好，我是 mymeta 个人AI助手，帮助您完成信息整理、在线调研与日常协作任务。你问的是：%q",
		strings.TrimSpace(task),
	)
}
