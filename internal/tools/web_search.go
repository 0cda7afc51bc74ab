package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	braveSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"
	searchResultCount   = 5
	searchTimeout       = 15 * time.Second
)

// WebSearchTool queries the Brave Search API for current information.
type WebSearchTool struct {
	apiKey string
	client *http.Client
}

// NewWebSearchTool creates the web search tool.
func NewWebSearchTool(apiKey string) *WebSearchTool {
	return &WebSearchTool{
		apiKey: apiKey,
		client: &http.Client{Timeout: searchTimeout},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Поиск информации в интернете. Используй когда нужна актуальная информация: погода, новости, цены, контакты, события."
}
func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Поисковый запрос на русском или английском",
			},
		},
		"required": []string{"query"},
	}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return ErrorResult("❌ Пустой поисковый запрос")
	}
	if t.apiKey == "" {
		return ErrorResult("❌ Web search не настроен: нет API ключа")
	}

	reqURL := braveSearchEndpoint + "?q=" + url.QueryEscape(query) + "&count=" + strconv.Itoa(searchResultCount)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("❌ Ошибка: %v", err)).WithError(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("❌ Ошибка: %v", err)).WithError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return ErrorResult(fmt.Sprintf("❌ Ошибка API: %d", resp.StatusCode))
	}

	var parsed braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ErrorResult(fmt.Sprintf("❌ Ошибка: %v", err)).WithError(err)
	}

	results := parsed.Web.Results
	if len(results) == 0 {
		return NewResult(fmt.Sprintf("🔍 По запросу «%s» ничего не найдено", query))
	}
	if len(results) > searchResultCount {
		results = results[:searchResultCount]
	}

	var out []string
	for i, item := range results {
		desc := item.Description
		if len(desc) > 200 {
			desc = desc[:200]
		}
		out = append(out, fmt.Sprintf("%d. %s\n   %s\n   🔗 %s", i+1, item.Title, desc, item.URL))
	}
	return NewResult(strings.Join(out, "\n\n"))
}
