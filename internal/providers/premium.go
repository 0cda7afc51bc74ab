package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// PremiumProvider talks to the external higher-capability backend using
// the structured tool-call protocol: tools are declared as a typed
// manifest and calls come back as tool_calls records with ids.
//
// Model and API key are mutable at runtime (godmode admin endpoints), so
// access goes through a mutex.
type PremiumProvider struct {
	mu           sync.RWMutex
	apiKey       string
	apiBase      string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

// NewPremiumProvider creates an adapter for the premium backend.
func NewPremiumProvider(apiKey, apiBase, defaultModel string, timeout time.Duration) *PremiumProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &PremiumProvider{
		apiKey:       apiKey,
		apiBase:      strings.TrimRight(apiBase, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: timeout},
		retryConfig:  DefaultRetryConfig(),
	}
}

func (p *PremiumProvider) Name() string { return "premium" }

func (p *PremiumProvider) DefaultModel() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.defaultModel
}

// SetModel switches the premium model at runtime.
func (p *PremiumProvider) SetModel(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultModel = model
}

// Refresh replaces the API key (empty keeps the current one) and resets
// the HTTP client.
func (p *PremiumProvider) Refresh(apiKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if apiKey != "" {
		p.apiKey = apiKey
	}
	p.client = &http.Client{Timeout: p.client.Timeout}
}

// Available reports whether the backend is usable (an API key is set).
func (p *PremiumProvider) Available() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.apiKey != ""
}

func (p *PremiumProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p.mu.RLock()
	apiKey := p.apiKey
	apiBase := p.apiBase
	model := p.defaultModel
	client := p.client
	p.mu.RUnlock()

	if apiKey == "" {
		return nil, &HTTPError{Status: http.StatusUnauthorized, Body: "premium: API key not configured"}
	}
	if req.Model != "" {
		model = req.Model
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": wireMessages(req.Messages),
		"stream":   false,
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
		body["tool_choice"] = "auto"
	}
	if v, ok := req.Options[OptMaxTokens]; ok {
		body["max_tokens"] = v
	}
	if v, ok := req.Options[OptTemperature]; ok {
		body["temperature"] = v
	}

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		var oaiResp openAIResponse
		if err := postJSON(ctx, client, apiBase+"/chat/completions", apiKey, body, &oaiResp); err != nil {
			return nil, fmt.Errorf("premium: %w", err)
		}
		return parsePremiumResponse(&oaiResp), nil
	})
}

func parsePremiumResponse(resp *openAIResponse) *ChatResponse {
	result := &ChatResponse{FinishReason: "stop"}

	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		result.Content = msg.Content
		result.FinishReason = resp.Choices[0].FinishReason

		for _, tc := range msg.ToolCalls {
			args := make(map[string]interface{})
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      strings.TrimSpace(tc.Function.Name),
				Arguments: args,
			})
		}
		if len(result.ToolCalls) > 0 {
			result.FinishReason = "tool_calls"
		}
	}

	if resp.Usage != nil {
		result.Usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result
}
