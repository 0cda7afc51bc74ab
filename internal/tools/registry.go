// Package tools hosts the uniform tool registry: built-in tools and
// MCP-registered ones behind one execute path with per-call timeouts and
// output-size limits.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wishmasterff/animara/internal/providers"
)

// Tool is one callable capability exposed to the backends.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

const (
	defaultToolTimeout   = 30 * time.Second
	defaultMaxOutputChar = 8000
)

// Registry is a name-keyed map of tools with a guarded execute path.
type Registry struct {
	mu            sync.RWMutex
	tools         map[string]Tool
	groups        map[string][]string
	timeout       time.Duration
	maxOutputChar int
	truncations   int64
}

// NewRegistry creates an empty registry.
func NewRegistry(timeout time.Duration, maxOutputChars int) *Registry {
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	if maxOutputChars <= 0 {
		maxOutputChars = defaultMaxOutputChar
	}
	return &Registry{
		tools:         make(map[string]Tool),
		groups:        make(map[string][]string),
		timeout:       timeout,
		maxOutputChar: maxOutputChars,
	}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterGroup maps a classifier tool-set name to member tool names.
// Used for both built-in groups and MCP server groups.
func (r *Registry) RegisterGroup(group string, members []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[group] = members
}

// UnregisterGroup removes a tool-set mapping.
func (r *Registry) UnregisterGroup(group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, group)
}

// ExpandGroups resolves classifier tool-set names to concrete registered
// tool names. Unknown groups resolve to nothing; an empty input set means
// "no restriction" and expands to all tools.
func (r *Registry) ExpandGroups(groups map[string]struct{}) []string {
	if len(groups) == 0 {
		return r.List()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[string]struct{}{}
	var names []string
	for g := range groups {
		for _, member := range r.groups[g] {
			if _, ok := r.tools[member]; !ok {
				continue
			}
			if _, dup := seen[member]; dup {
				continue
			}
			seen[member] = struct{}{}
			names = append(names, member)
		}
	}
	sort.Strings(names)
	return names
}

// Execute runs a tool with the per-call timeout. It never propagates an
// error out: unknown tools, timeouts, panics and handler failures all
// come back as short human-readable text.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]interface{}) *Result {
	tool, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("❌ Неизвестный инструмент: %s", name))
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resultCh := make(chan *Result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("tool panicked", "tool", name, "panic", rec)
				resultCh <- ErrorResult(fmt.Sprintf("❌ Ошибка %s: internal failure", name))
			}
		}()
		resultCh <- tool.Execute(ctx, params)
	}()

	var result *Result
	select {
	case <-ctx.Done():
		slog.Warn("tool timed out", "tool", name, "timeout", r.timeout)
		return ErrorResult(fmt.Sprintf("❌ Таймаут %s", name))
	case result = <-resultCh:
	}

	if result == nil {
		return ErrorResult(fmt.Sprintf("❌ Ошибка %s: empty result", name))
	}
	if len(result.ForLLM) > r.maxOutputChar {
		result.ForLLM = TruncateOutput(result.ForLLM, r.maxOutputChar)
		result.Truncated = true
		r.mu.Lock()
		r.truncations++
		r.mu.Unlock()
		slog.Warn("tool output truncated", "tool", name, "max_chars", r.maxOutputChar)
	}
	return result
}

// Truncations reports how many tool outputs were cut to size.
func (r *Registry) Truncations() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.truncations
}

// TruncateOutput keeps the head and tail of an oversized tool result with
// a marker in the middle.
func TruncateOutput(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}
	half := maxChars / 2
	return s[:half] +
		fmt.Sprintf("\n\n... [обрезано %d символов] ...\n\n", len(s)-maxChars) +
		s[len(s)-half:]
}

// ProviderDefs converts registered tools into the typed manifest for the
// structured tool-call protocol.
func (r *Registry) ProviderDefs(names []string) []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool, ok := r.Get(name)
		if !ok {
			continue
		}
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return defs
}

// FreeTextManifest renders the tool list for the local backend's system
// prompt, with the <tool>{json}</tool> calling convention.
func (r *Registry) FreeTextManifest(names []string) string {
	if len(names) == 0 {
		return ""
	}
	lines := []string{
		"ДОСТУПНЫЕ ИНСТРУМЕНТЫ:",
		`Чтобы вызвать инструмент, напиши: <tool>{"name": "имя", "params": {...}}</tool>`,
		"",
	}
	for _, name := range names {
		tool, ok := r.Get(name)
		if !ok {
			continue
		}
		var params []string
		if props, ok := tool.Parameters()["properties"].(map[string]interface{}); ok {
			keys := make([]string, 0, len(props))
			for k := range props {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				desc := ""
				if p, ok := props[k].(map[string]interface{}); ok {
					desc, _ = p["description"].(string)
				}
				params = append(params, fmt.Sprintf("%s: %q", k, desc))
			}
		}
		lines = append(lines, fmt.Sprintf("• %s(%s) — %s", name, strings.Join(params, ", "), tool.Description()))
	}
	lines = append(lines, "", "ВАЖНО: После получения результата инструмента — дай КРАТКИЙ ответ пользователю!")
	return strings.Join(lines, "\n")
}
