// Package memory handles durable knowledge: the markdown workspace, the
// regex fact miner, and the session memory flush.
package memory

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wishmasterff/animara/internal/budget"
)

// FallbackPersona is returned instead of the workspace context for any
// caller other than the owner.
const FallbackPersona = "Ты — Animara, AI-ассистент. Представься и спроси чем помочь."

var workspaceFiles = []string{"SOUL.md", "IDENTITY.md", "OWNER.md", "MEMORY.md", "TOOLS.md"}

const (
	fileReadCap       = 4000
	memoryFileReadCap = 2000
	contextSeparator  = "\n\n---\n\n"
)

// Workspace reads persona/memory markdown files with a short TTL cache
// and appends durable notes to the dated memory files.
type Workspace struct {
	root      string
	memoryDir string
	ttl       time.Duration

	mu        sync.Mutex
	cached    string
	cachedAt  time.Time
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewWorkspace creates the loader. A watcher invalidates the cache as
// soon as any workspace file changes; the TTL is the fallback when the
// watcher cannot be established.
func NewWorkspace(root string, ttl time.Duration) *Workspace {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	w := &Workspace{
		root:      root,
		memoryDir: filepath.Join(root, "memory"),
		ttl:       ttl,
	}
	w.startWatcher()
	return w
}

func (w *Workspace) startWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("workspace watcher unavailable, relying on TTL cache", "error", err)
		return
	}
	if err := watcher.Add(w.root); err != nil {
		slog.Debug("workspace watch skipped", "path", w.root, "error", err)
	}
	if err := watcher.Add(w.memoryDir); err != nil {
		slog.Debug("workspace memory watch skipped", "path", w.memoryDir, "error", err)
	}

	w.watcher = watcher
	w.watchDone = make(chan struct{})

	go func() {
		defer close(w.watchDone)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					w.InvalidateCache()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Debug("workspace watcher error", "error", err)
			}
		}
	}()
}

// Close stops the file watcher.
func (w *Workspace) Close() {
	if w.watcher != nil {
		w.watcher.Close()
		<-w.watchDone
	}
}

func (w *Workspace) readFile(name string, cap int) string {
	data, err := os.ReadFile(filepath.Join(w.root, name))
	if err != nil {
		return ""
	}
	s := string(data)
	if len(s) > cap {
		s = s[:cap]
	}
	return s
}

// Context returns the concatenated workspace context: the fixed persona
// files plus today's and yesterday's dated memory files.
func (w *Workspace) Context() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cached != "" && time.Since(w.cachedAt) < w.ttl {
		return w.cached
	}

	var parts []string
	for _, f := range workspaceFiles {
		if content := w.readFile(f, fileReadCap); content != "" {
			parts = append(parts, content)
		}
	}

	today := time.Now().Format("2006-01-02")
	yesterday := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	for _, date := range []string{today, yesterday} {
		if content := w.readFile(filepath.Join("memory", date+".md"), memoryFileReadCap); content != "" {
			parts = append(parts, fmt.Sprintf("<!-- %s -->\n%s", date, content))
		}
	}

	w.cached = strings.Join(parts, contextSeparator)
	w.cachedAt = time.Now()
	return w.cached
}

// ContextFor applies the owner boundary: only the owner receives the
// workspace context, everyone else gets the fallback persona line.
func (w *Workspace) ContextFor(callerID, ownerID string) string {
	if callerID != ownerID {
		return FallbackPersona
	}
	return w.Context()
}

// WriteMemory appends a timestamped block to today's memory file,
// creating directories as needed, then invalidates the cache.
func (w *Workspace) WriteMemory(label, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if err := os.MkdirAll(w.memoryDir, 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}

	today := time.Now().Format("2006-01-02")
	path := filepath.Join(w.memoryDir, today+".md")
	stamp := time.Now().Format("15:04")

	block := fmt.Sprintf("\n\n## [%s] %s\n\n%s", stamp, label, content)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		block = fmt.Sprintf("# 📅 %s%s", today, block)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open memory file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(block); err != nil {
		return fmt.Errorf("append memory file: %w", err)
	}

	w.InvalidateCache()
	slog.Info("memory written", "file", path, "chars", len(content))
	return nil
}

// InvalidateCache drops the cached context.
func (w *Workspace) InvalidateCache() {
	w.mu.Lock()
	w.cached = ""
	w.cachedAt = time.Time{}
	w.mu.Unlock()
}

// WorkspaceStats describes the current context for the HTTP surface.
type WorkspaceStats struct {
	Chars   int    `json:"chars"`
	Tokens  int    `json:"tokens"`
	Preview string `json:"preview"`
}

// Stats returns size and a preview of the workspace context.
func (w *Workspace) Stats() WorkspaceStats {
	ctx := w.Context()
	preview := ctx
	if len(preview) > 500 {
		preview = preview[:500]
	}
	return WorkspaceStats{
		Chars:   len(ctx),
		Tokens:  budget.Estimate(ctx),
		Preview: preview,
	}
}
