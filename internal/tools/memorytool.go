package tools

import (
	"context"
	"fmt"
	"strings"
)

// MemorySearcher is the hybrid retriever surface the memory tool needs.
type MemorySearcher interface {
	Search(ctx context.Context, query, callerID string, k int) []string
}

// MemorySearchTool runs the hybrid retriever as a tool, scoped to the
// calling user.
type MemorySearchTool struct {
	retriever MemorySearcher
	topK      int
}

// NewMemorySearchTool creates the memory search tool.
func NewMemorySearchTool(retriever MemorySearcher, topK int) *MemorySearchTool {
	if topK <= 0 {
		topK = 5
	}
	return &MemorySearchTool{retriever: retriever, topK: topK}
}

// callerKey carries the caller id through tool execution context.
type callerKey struct{}

// WithCaller attaches the caller id for caller-scoped tools.
func WithCaller(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerKey{}, callerID)
}

// CallerFromCtx returns the caller id attached by WithCaller.
func CallerFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(callerKey{}).(string); ok {
		return v
	}
	return ""
}

func (t *MemorySearchTool) Name() string { return "memory_search" }
func (t *MemorySearchTool) Description() string {
	return "Семантический поиск по долговременной памяти."
}
func (t *MemorySearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Что искать в памяти",
			},
		},
		"required": []string{"query"},
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return ErrorResult("❌ Пустой запрос")
	}
	callerID := CallerFromCtx(ctx)
	if callerID == "" {
		return ErrorResult("❌ Неизвестный пользователь")
	}

	results := t.retriever.Search(ctx, query, callerID, t.topK)
	if len(results) == 0 {
		return NewResult("🔍 В памяти ничего не найдено")
	}

	var out []string
	for i, r := range results {
		if len(r) > 200 {
			r = r[:200] + "..."
		}
		out = append(out, fmt.Sprintf("%d. %s", i+1, r))
	}
	return NewResult("🧠 Из памяти:\n" + strings.Join(out, "\n"))
}
