package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name string
	fn   func(ctx context.Context, args map[string]interface{}) *Result
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub tool " + s.name }
func (s *stubTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"arg": map[string]interface{}{"type": "string", "description": "аргумент"},
		},
		"required": []string{},
	}
}
func (s *stubTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	return s.fn(ctx, args)
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry(time.Second, 1000)
	result := r.Execute(context.Background(), "nope", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, result.ForLLM, "Неизвестный инструмент")
}

func TestRegistryTimeout(t *testing.T) {
	r := NewRegistry(50*time.Millisecond, 1000)
	r.Register(&stubTool{name: "sleepy", fn: func(ctx context.Context, args map[string]interface{}) *Result {
		select {
		case <-time.After(5 * time.Second):
			return NewResult("never")
		case <-ctx.Done():
			return NewResult("cancelled")
		}
	}})

	start := time.Now()
	result := r.Execute(context.Background(), "sleepy", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, result.ForLLM, "Таймаут")
	assert.Less(t, time.Since(start), time.Second, "timeout must not wait for the handler")
}

func TestRegistryOutputTruncation(t *testing.T) {
	r := NewRegistry(time.Second, 200)
	long := strings.Repeat("A", 150) + strings.Repeat("Z", 150)
	r.Register(&stubTool{name: "chatty", fn: func(ctx context.Context, args map[string]interface{}) *Result {
		return NewResult(long)
	}})

	result := r.Execute(context.Background(), "chatty", nil)
	require.False(t, result.IsError)
	assert.True(t, result.Truncated)
	assert.Contains(t, result.ForLLM, "обрезано")
	assert.True(t, strings.HasPrefix(result.ForLLM, "AAA"), "prefix preserved")
	assert.True(t, strings.HasSuffix(result.ForLLM, "ZZZ"), "suffix preserved")
	assert.LessOrEqual(t, len(result.ForLLM), 200+60)
	assert.Equal(t, int64(1), r.Truncations())
}

func TestRegistryPanicRecovery(t *testing.T) {
	r := NewRegistry(time.Second, 1000)
	r.Register(&stubTool{name: "bomb", fn: func(ctx context.Context, args map[string]interface{}) *Result {
		panic("boom")
	}})

	result := r.Execute(context.Background(), "bomb", nil)
	assert.True(t, result.IsError)
}

func TestExpandGroups(t *testing.T) {
	r := NewRegistry(time.Second, 1000)
	ok := func(ctx context.Context, args map[string]interface{}) *Result { return NewResult("ok") }
	r.Register(&stubTool{name: "task_list", fn: ok})
	r.Register(&stubTool{name: "task_create", fn: ok})
	r.Register(&stubTool{name: "web_search", fn: ok})
	r.RegisterGroup("task", []string{"task_list", "task_create", "task_missing"})
	r.RegisterGroup("web", []string{"web_search"})

	// Specific groups expand to registered members only.
	names := r.ExpandGroups(map[string]struct{}{"task": {}})
	assert.Equal(t, []string{"task_create", "task_list"}, names)

	// Unknown group resolves to nothing.
	assert.Empty(t, r.ExpandGroups(map[string]struct{}{"calendar": {}}))

	// Empty set means no restriction.
	assert.Len(t, r.ExpandGroups(nil), 3)
}

func TestFreeTextManifest(t *testing.T) {
	r := NewRegistry(time.Second, 1000)
	r.Register(&stubTool{name: "web_search", fn: func(ctx context.Context, args map[string]interface{}) *Result {
		return NewResult("ok")
	}})

	manifest := r.FreeTextManifest([]string{"web_search"})
	assert.Contains(t, manifest, "<tool>")
	assert.Contains(t, manifest, "web_search")
	assert.Contains(t, manifest, "ДОСТУПНЫЕ ИНСТРУМЕНТЫ")

	assert.Empty(t, r.FreeTextManifest(nil))
}

func TestProviderDefs(t *testing.T) {
	r := NewRegistry(time.Second, 1000)
	r.Register(&stubTool{name: "time_now", fn: func(ctx context.Context, args map[string]interface{}) *Result {
		return NewResult("ok")
	}})

	defs := r.ProviderDefs([]string{"time_now", "missing"})
	require.Len(t, defs, 1)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, "time_now", defs[0].Function.Name)
}
