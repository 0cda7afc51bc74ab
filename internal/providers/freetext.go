package providers

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Free-text tool-call parsing for the local backend. The primary format is
// a <tool>{"name": ..., "params": {...}}</tool> block; smaller local models
// sometimes ignore the convention and emit plain function-call text
// instead, so a fallback table recognizes those forms too.

var toolBlockRe = regexp.MustCompile(`(?s)<tool>\s*(\{.*?\})\s*</tool>`)

type freeTextCall struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params"`
}

// fallbackCallForms maps function-call shaped text to tool calls for models
// that drop the <tool> wrapper.
var fallbackCallForms = []struct {
	re    *regexp.Regexp
	build func(m []string) *ToolCall
}{
	{
		re:    regexp.MustCompile(`task_list\s*\(\s*\)`),
		build: func([]string) *ToolCall { return &ToolCall{Name: "task_list", Arguments: map[string]interface{}{}} },
	},
	{
		re: regexp.MustCompile(`task_find\s*\(\s*["']([^"']+)["']\s*\)`),
		build: func(m []string) *ToolCall {
			return &ToolCall{Name: "task_find", Arguments: map[string]interface{}{"search_term": m[1]}}
		},
	},
	{
		re: regexp.MustCompile(`task_create\s*\(\s*["']([^"']+)["']\s*\)`),
		build: func(m []string) *ToolCall {
			return &ToolCall{Name: "task_create", Arguments: map[string]interface{}{"title": m[1]}}
		},
	},
	{
		re: regexp.MustCompile(`web_search\s*\(\s*["']([^"']+)["']\s*\)`),
		build: func(m []string) *ToolCall {
			return &ToolCall{Name: "web_search", Arguments: map[string]interface{}{"query": m[1]}}
		},
	},
	{
		re:    regexp.MustCompile(`system_check\s*\(\s*\)`),
		build: func([]string) *ToolCall { return &ToolCall{Name: "system_check", Arguments: map[string]interface{}{}} },
	},
}

// ParseFreeTextToolCall extracts a tool-call intent from local model
// output. Returns nil when the text is a final answer.
func ParseFreeTextToolCall(text string) *ToolCall {
	if m := toolBlockRe.FindStringSubmatch(text); m != nil {
		var call freeTextCall
		if err := json.Unmarshal([]byte(m[1]), &call); err == nil && call.Name != "" {
			if call.Params == nil {
				call.Params = map[string]interface{}{}
			}
			return &ToolCall{Name: call.Name, Arguments: call.Params}
		}
	}

	for _, form := range fallbackCallForms {
		if m := form.re.FindStringSubmatch(text); m != nil {
			return form.build(m)
		}
	}
	return nil
}

// StripToolSyntax removes residual <tool> blocks from final answer text.
func StripToolSyntax(text string) string {
	return strings.TrimSpace(toolBlockRe.ReplaceAllString(text, ""))
}

// --- <think> block cleanup ---

var (
	closedThinkRe   = regexp.MustCompile(`(?s)<think>(.*?)</think>`)
	unclosedThinkRe = regexp.MustCompile(`(?s)<think>(.*)`)
)

// CleanThinkBlocks removes <think>…</think> spans, preferring the
// post-think text. When nothing remains outside the blocks, the think
// contents are returned instead so the reply is never empty. Unclosed
// tags are handled the same way.
func CleanThinkBlocks(text string) string {
	if text == "" {
		return ""
	}
	if !strings.Contains(strings.ToLower(text), "<think>") {
		return strings.TrimSpace(text)
	}

	closed := closedThinkRe.FindStringSubmatch(text)

	clean := closedThinkRe.ReplaceAllString(text, "")
	clean = unclosedThinkRe.ReplaceAllString(clean, "")
	clean = strings.TrimSpace(clean)
	if clean != "" {
		return clean
	}

	if closed != nil {
		return strings.TrimSpace(closed[1])
	}
	if m := unclosedThinkRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(strings.ReplaceAll(m[1], "</think>", ""))
	}
	return ""
}
