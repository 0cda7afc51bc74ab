package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T) (*Workspace, string) {
	t.Helper()
	dir := t.TempDir()
	w := NewWorkspace(dir, time.Minute)
	t.Cleanup(w.Close)
	return w, dir
}

func TestWorkspaceContext(t *testing.T) {
	w, dir := newTestWorkspace(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "SOUL.md"), []byte("# Душа"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "IDENTITY.md"), []byte("# Личность"), 0o644))
	w.InvalidateCache()

	ctx := w.Context()
	assert.Contains(t, ctx, "# Душа")
	assert.Contains(t, ctx, "# Личность")
	assert.Contains(t, ctx, "\n\n---\n\n")
}

func TestWorkspaceDatedMemoryFiles(t *testing.T) {
	w, dir := newTestWorkspace(t)

	today := time.Now().Format("2006-01-02")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "memory"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "memory", today+".md"), []byte("запись дня"), 0o644))
	w.InvalidateCache()

	ctx := w.Context()
	assert.Contains(t, ctx, "<!-- "+today+" -->")
	assert.Contains(t, ctx, "запись дня")
}

func TestWorkspaceOwnerBoundary(t *testing.T) {
	w, dir := newTestWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "OWNER.md"), []byte("секреты владельца"), 0o644))
	w.InvalidateCache()

	assert.Contains(t, w.ContextFor("owner", "owner"), "секреты владельца")

	guest := w.ContextFor("guest42", "owner")
	assert.Equal(t, FallbackPersona, guest)
	assert.NotContains(t, guest, "секреты")
}

func TestWriteMemory(t *testing.T) {
	w, dir := newTestWorkspace(t)

	require.NoError(t, w.WriteMemory("Memory Flush", "• пользователь любит кофе"))

	today := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, "memory", today+".md"))
	require.NoError(t, err)
	content := string(data)

	assert.True(t, strings.HasPrefix(content, "# 📅 "+today))
	assert.Contains(t, content, "] Memory Flush")
	assert.Contains(t, content, "• пользователь любит кофе")

	// Second write appends another block.
	require.NoError(t, w.WriteMemory("Note", "вторая запись"))
	data, err = os.ReadFile(filepath.Join(dir, "memory", today+".md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "] Note")
	assert.Equal(t, 1, strings.Count(string(data), "# 📅"), "header written once")
}

func TestWriteMemoryEmptyIsNoop(t *testing.T) {
	w, dir := newTestWorkspace(t)
	require.NoError(t, w.WriteMemory("Note", "   "))
	_, err := os.Stat(filepath.Join(dir, "memory"))
	assert.True(t, os.IsNotExist(err))
}

func TestWorkspaceReadCap(t *testing.T) {
	w, dir := newTestWorkspace(t)
	big := strings.Repeat("x", 10000)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SOUL.md"), []byte(big), 0o644))
	w.InvalidateCache()

	assert.LessOrEqual(t, len(w.Context()), 4000)
}

func TestWorkspaceStats(t *testing.T) {
	w, dir := newTestWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SOUL.md"), []byte("персона"), 0o644))
	w.InvalidateCache()

	stats := w.Stats()
	assert.Equal(t, len("персона"), stats.Chars)
	assert.Greater(t, stats.Tokens, 0)
	assert.NotEmpty(t, stats.Preview)
}
