package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// SystemCheckTool reports host status: Docker containers, disk, memory.
// Commands are fixed; the model cannot run arbitrary shell.
type SystemCheckTool struct {
	diskPath string
}

// NewSystemCheckTool creates the system status tool. diskPath is the
// mount point reported in the disk section.
func NewSystemCheckTool(diskPath string) *SystemCheckTool {
	if diskPath == "" {
		diskPath = "/"
	}
	return &SystemCheckTool{diskPath: diskPath}
}

func (t *SystemCheckTool) Name() string { return "system_check" }
func (t *SystemCheckTool) Description() string {
	return "Проверить статус системы: Docker контейнеры, диск, память."
}
func (t *SystemCheckTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
		"required":   []string{},
	}
}

func (t *SystemCheckTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	out := []string{"🖥️ **Статус системы:**"}

	if containers := runLines(ctx, 10*time.Second, "docker", "ps", "--format", "{{.Names}}: {{.Status}}"); containers != nil {
		out = append(out, "\n**Docker:**")
		for i, c := range containers {
			if i >= 5 {
				break
			}
			out = append(out, "  • "+c)
		}
	} else {
		out = append(out, "  ⚠️ Docker недоступен")
	}

	if lines := runLines(ctx, 5*time.Second, "df", "-h", t.diskPath); len(lines) > 1 {
		parts := strings.Fields(lines[1])
		if len(parts) >= 5 {
			out = append(out, fmt.Sprintf("\n**Диск:** %s / %s (%s использовано)", parts[2], parts[1], parts[4]))
		}
	} else {
		out = append(out, "\n**Диск:** ⚠️ недоступен")
	}

	if lines := runLines(ctx, 5*time.Second, "free", "-h"); len(lines) > 1 {
		parts := strings.Fields(lines[1])
		if len(parts) >= 3 {
			out = append(out, fmt.Sprintf("**Память:** %s / %s", parts[2], parts[1]))
		}
	}

	return NewResult(strings.Join(out, "\n"))
}

// runLines executes a fixed command and returns non-empty output lines,
// or nil on any failure.
func runLines(ctx context.Context, timeout time.Duration, name string, args ...string) []string {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil
	}

	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(stdout.String()), "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
