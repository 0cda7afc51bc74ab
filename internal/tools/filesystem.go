package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const readFileMaxBytes = 100_000

// resolvePath resolves a path relative to the workspace and rejects
// paths that escape the workspace boundary, resolving symlinks so link
// tricks cannot break out.
func resolvePath(path, workspace string) (string, error) {
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(workspace, path))
	}

	absWorkspace, _ := filepath.Abs(workspace)
	wsReal, err := filepath.EvalSymlinks(absWorkspace)
	if err != nil {
		wsReal = absWorkspace
	}

	real, err := filepath.EvalSymlinks(resolved)
	if err != nil {
		// Non-existent target: canonicalize the parent instead.
		parentReal, parentErr := filepath.EvalSymlinks(filepath.Dir(resolved))
		if parentErr != nil {
			parentReal = filepath.Dir(resolved)
		}
		real = filepath.Join(parentReal, filepath.Base(resolved))
	}

	if !isPathInside(real, wsReal) {
		return "", fmt.Errorf("access denied: path outside workspace")
	}
	return real, nil
}

func isPathInside(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// ReadFileTool reads file contents within the workspace.
type ReadFileTool struct {
	workspace string
}

func NewReadFileTool(workspace string) *ReadFileTool {
	return &ReadFileTool{workspace: workspace}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Прочитать содержимое файла из workspace." }
func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Путь к файлу",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("❌ Укажи путь к файлу")
	}

	resolved, err := resolvePath(path, t.workspace)
	if err != nil {
		return ErrorResult("❌ " + err.Error())
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("❌ Ошибка чтения: %v", err)).WithError(err)
	}
	if len(data) > readFileMaxBytes {
		data = data[:readFileMaxBytes]
	}
	return NewResult(string(data))
}

// WriteFileTool writes file contents within the workspace.
type WriteFileTool struct {
	workspace string
}

func NewWriteFileTool(workspace string) *WriteFileTool {
	return &WriteFileTool{workspace: workspace}
}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Записать текст в файл внутри workspace." }
func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Путь к файлу",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Содержимое",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return ErrorResult("❌ Укажи путь к файлу")
	}

	resolved, err := resolvePath(path, t.workspace)
	if err != nil {
		return ErrorResult("❌ " + err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("❌ Ошибка записи: %v", err)).WithError(err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("❌ Ошибка записи: %v", err)).WithError(err)
	}
	return NewResult(fmt.Sprintf("✅ Записано: %s (%d байт)", path, len(content)))
}
