package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// LocalProvider talks to a local OpenAI-compatible chat-completions
// endpoint. The local model has no native function calling: tools are
// advertised in the system prompt and calls come back as free text in a
// <tool>{json}</tool> block, which Chat parses into ToolCall intents.
type LocalProvider struct {
	endpoint     string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

// NewLocalProvider creates an adapter for the local backend.
func NewLocalProvider(endpoint, defaultModel string, timeout time.Duration) *LocalProvider {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &LocalProvider{
		endpoint:     strings.TrimRight(endpoint, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: timeout},
		retryConfig:  DefaultRetryConfig(),
	}
}

func (p *LocalProvider) Name() string         { return "local" }
func (p *LocalProvider) DefaultModel() string { return p.defaultModel }

// Endpoint returns the backend base URL (used by the /v1/models proxy).
func (p *LocalProvider) Endpoint() string { return p.endpoint }

func (p *LocalProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": wireMessages(req.Messages),
		"stream":   false,
	}
	if v, ok := req.Options[OptMaxTokens]; ok {
		body["max_tokens"] = v
	}
	if v, ok := req.Options[OptTemperature]; ok {
		body["temperature"] = v
	}
	if v, ok := req.Options[OptThinking].(bool); ok {
		body["chat_template_kwargs"] = map[string]interface{}{"enable_thinking": v}
	}

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		var oaiResp openAIResponse
		if err := postJSON(ctx, p.client, p.endpoint+"/v1/chat/completions", "", body, &oaiResp); err != nil {
			return nil, fmt.Errorf("local: %w", err)
		}

		resp := &ChatResponse{FinishReason: "stop"}
		if len(oaiResp.Choices) > 0 {
			content := CleanThinkBlocks(oaiResp.Choices[0].Message.Content)
			resp.Content = content
			if tc := ParseFreeTextToolCall(content); tc != nil {
				resp.ToolCalls = []ToolCall{*tc}
				resp.FinishReason = "tool_calls"
			}
		}
		if oaiResp.Usage != nil {
			resp.Usage = &Usage{
				PromptTokens:     oaiResp.Usage.PromptTokens,
				CompletionTokens: oaiResp.Usage.CompletionTokens,
				TotalTokens:      oaiResp.Usage.TotalTokens,
			}
		}
		return resp, nil
	})
}

// Models fetches the backend's model list as raw JSON.
func (p *LocalProvider) Models(ctx context.Context) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("local: create request: %w", err)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("local: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("local: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// --- thinking mode ---

// thinkingCues trigger the local model's reasoning mode: arithmetic,
// step-by-step asks, puzzles, code, analysis, planning.
var thinkingCues = []*regexp.Regexp{
	regexp.MustCompile(`\d+\s*[\+\-\*\/\%]\s*\d+`),
	regexp.MustCompile(`сколько будет`),
	regexp.MustCompile(`посчитай`),
	regexp.MustCompile(`вычисли`),
	regexp.MustCompile(`реши`),
	regexp.MustCompile(`задач[аи]`),
	regexp.MustCompile(`головоломк`),
	regexp.MustCompile(`волк.*коз.*капуст`),
	regexp.MustCompile(`напиши код`),
	regexp.MustCompile(`напиши функци`),
	regexp.MustCompile(`алгоритм`),
	regexp.MustCompile(`проанализируй`),
	regexp.MustCompile(`сравни`),
	regexp.MustCompile(`объясни почему`),
	regexp.MustCompile(`составь план`),
	regexp.MustCompile(`пошагов`),
}

// NeedsThinking reports whether the user turn should enable the local
// model's thinking mode.
func NeedsThinking(text string) bool {
	lower := strings.ToLower(text)
	for _, cue := range thinkingCues {
		if cue.MatchString(lower) {
			return true
		}
	}
	return false
}

// --- shared OpenAI wire helpers ---

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// wireMessages converts internal messages to the OpenAI wire format:
// tool_calls get the type+function wrapper with arguments as a JSON string.
func wireMessages(messages []Message) []map[string]interface{} {
	msgs := make([]map[string]interface{}, 0, len(messages))
	for _, m := range messages {
		msg := map[string]interface{}{"role": m.Role}
		if m.Content != "" || len(m.ToolCalls) == 0 {
			msg["content"] = m.Content
		}
		if len(m.ToolCalls) > 0 {
			toolCalls := make([]map[string]interface{}, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Arguments)
				toolCalls[i] = map[string]interface{}{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]interface{}{
						"name":      tc.Name,
						"arguments": string(argsJSON),
					},
				}
			}
			msg["tool_calls"] = toolCalls
		}
		if m.ToolCallID != "" {
			msg["tool_call_id"] = m.ToolCallID
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func postJSON(ctx context.Context, client *http.Client, url, apiKey string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return &HTTPError{
			Status:     resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
