package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TaskBoardClient talks to the task board's REST API (YouGile-style:
// boards hold columns, columns hold tasks).
type TaskBoardClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewTaskBoardClient creates the task board client.
func NewTaskBoardClient(baseURL, token string) *TaskBoardClient {
	return &TaskBoardClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type boardTask struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Deleted   bool   `json:"deleted"`
	Completed bool   `json:"completed"`
}

type boardItem struct {
	ID string `json:"id"`
}

type contentEnvelope[T any] struct {
	Content []T `json:"content"`
}

func (c *TaskBoardClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *TaskBoardClient) tasks(ctx context.Context) ([]boardTask, error) {
	var env contentEnvelope[boardTask]
	if err := c.getJSON(ctx, "/tasks", &env); err != nil {
		return nil, err
	}
	return env.Content, nil
}

func (c *TaskBoardClient) createTask(ctx context.Context, title, description string) (string, error) {
	var boards contentEnvelope[boardItem]
	if err := c.getJSON(ctx, "/boards", &boards); err != nil {
		return "", fmt.Errorf("boards: %w", err)
	}
	if len(boards.Content) == 0 {
		return "", fmt.Errorf("нет досок")
	}

	var columns contentEnvelope[boardItem]
	if err := c.getJSON(ctx, "/columns?boardId="+url.QueryEscape(boards.Content[0].ID), &columns); err != nil {
		return "", fmt.Errorf("columns: %w", err)
	}
	if len(columns.Content) == 0 {
		return "", fmt.Errorf("нет колонок на доске")
	}

	payload := map[string]string{"title": title, "columnId": columns.Content[0].ID}
	if description != "" {
		payload["description"] = description
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tasks", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var created boardItem
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// --- task_list ---

// TaskListTool lists active tasks from the task board.
type TaskListTool struct{ client *TaskBoardClient }

func NewTaskListTool(client *TaskBoardClient) *TaskListTool { return &TaskListTool{client: client} }

func (t *TaskListTool) Name() string { return "task_list" }
func (t *TaskListTool) Description() string {
	return "Получить список активных задач. Используй когда спрашивают о задачах, делах, todo."
}
func (t *TaskListTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
		"required":   []string{},
	}
}

func (t *TaskListTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	tasks, err := t.client.tasks(ctx)
	if err != nil {
		return ErrorResult(fmt.Sprintf("❌ Ошибка доски задач: %v", err)).WithError(err)
	}

	var active []string
	for _, task := range tasks {
		if task.Deleted || task.Completed {
			continue
		}
		active = append(active, "• "+task.Title)
		if len(active) >= 10 {
			break
		}
	}
	if len(active) == 0 {
		return NewResult("📋 Нет активных задач")
	}
	return NewResult("📋 Задачи:\n" + strings.Join(active, "\n"))
}

// --- task_find ---

// TaskFindTool finds tasks by title substring.
type TaskFindTool struct{ client *TaskBoardClient }

func NewTaskFindTool(client *TaskBoardClient) *TaskFindTool { return &TaskFindTool{client: client} }

func (t *TaskFindTool) Name() string { return "task_find" }
func (t *TaskFindTool) Description() string {
	return "Найти конкретную задачу по названию."
}
func (t *TaskFindTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"search_term": map[string]interface{}{
				"type":        "string",
				"description": "Часть названия задачи для поиска",
			},
		},
		"required": []string{"search_term"},
	}
}

func (t *TaskFindTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	search, _ := args["search_term"].(string)
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return ErrorResult("❌ Укажи что искать")
	}

	tasks, err := t.client.tasks(ctx)
	if err != nil {
		return ErrorResult(fmt.Sprintf("❌ Ошибка доски задач: %v", err)).WithError(err)
	}

	var found []string
	for _, task := range tasks {
		if task.Deleted {
			continue
		}
		if strings.Contains(strings.ToLower(task.Title), search) {
			id := task.ID
			if len(id) > 8 {
				id = id[:8]
			}
			found = append(found, fmt.Sprintf("• %s (ID: %s...)", task.Title, id))
			if len(found) >= 5 {
				break
			}
		}
	}
	if len(found) == 0 {
		return NewResult(fmt.Sprintf("🔍 Задача «%s» не найдена", search))
	}
	return NewResult("🔍 Найдено:\n" + strings.Join(found, "\n"))
}

// --- task_create ---

// TaskCreateTool creates a task in the first column of the first board.
type TaskCreateTool struct{ client *TaskBoardClient }

func NewTaskCreateTool(client *TaskBoardClient) *TaskCreateTool {
	return &TaskCreateTool{client: client}
}

func (t *TaskCreateTool) Name() string { return "task_create" }
func (t *TaskCreateTool) Description() string {
	return "Создать новую задачу. ОБЯЗАТЕЛЬНО используй когда просят добавить, создать, записать задачу."
}
func (t *TaskCreateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Название задачи",
			},
			"description": map[string]interface{}{
				"type":        "string",
				"description": "Описание задачи (опционально)",
			},
		},
		"required": []string{"title"},
	}
}

func (t *TaskCreateTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	title, _ := args["title"].(string)
	if strings.TrimSpace(title) == "" {
		return ErrorResult("❌ Укажи название задачи")
	}
	description, _ := args["description"].(string)

	id, err := t.client.createTask(ctx, title, description)
	if err != nil {
		return ErrorResult(fmt.Sprintf("❌ Ошибка создания: %v", err)).WithError(err)
	}
	if len(id) > 8 {
		id = id[:8]
	}
	return NewResult(fmt.Sprintf("✅ Задача создана: «%s» (ID: %s...)", title, id))
}
