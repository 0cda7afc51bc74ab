// Package agent drives the reason-act loop: per turn it assembles a
// grounded prompt, routes between the local and premium backends, runs
// tool iterations and finalizes the assistant reply.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/wishmasterff/animara/internal/budget"
	"github.com/wishmasterff/animara/internal/memory"
	"github.com/wishmasterff/animara/internal/providers"
	"github.com/wishmasterff/animara/internal/retrieval"
	"github.com/wishmasterff/animara/internal/router"
	"github.com/wishmasterff/animara/internal/session"
	"github.com/wishmasterff/animara/internal/tools"
)

const (
	sessionContextK = 6

	iterationLimitReply = "⚠️ Превышен лимит итераций инструментов. Попробуй упростить запрос."
	timeoutReply        = "⚠️ Таймаут модели. Подожди немного и попробуй снова."
	lastResortReply     = "Извини, не получилось сформулировать ответ. Попробуй переформулировать."
	authErrorReply      = "❌ Ошибка авторизации внешней модели. Проверь API ключ."
	rateLimitReply      = "❌ Rate limit внешней модели. Подожди минуту и попробуй снова."
	godmodeOwnerOnly    = "❌ Режим бога доступен только владельцу."
)

// Options are the engine knobs resolved from config at startup.
type Options struct {
	OwnerID           string
	ContextWindow     int
	DesiredMaxTokens  int
	PremiumMaxTokens  int
	ReserveTokens     int
	MinResponseTokens int
	MaxIterations     int
	SearchTopK        int
	LocalModel        string
	PremiumModel      string
}

// Engine orchestrates one conversation turn end to end.
type Engine struct {
	opts       Options
	sessions   *session.Manager
	workspace  *memory.Workspace
	retriever  *retrieval.Retriever
	classifier *router.Classifier
	registry   *tools.Registry
	local      providers.Provider
	premium    *providers.PremiumProvider
	flusher    *memory.Flusher
	facts      *memory.FactExtractor
	background *Background
	tracer     trace.Tracer
}

// NewEngine wires the orchestrator.
func NewEngine(opts Options, sessions *session.Manager, workspace *memory.Workspace, retriever *retrieval.Retriever, classifier *router.Classifier, registry *tools.Registry, local providers.Provider, premium *providers.PremiumProvider, flusher *memory.Flusher, facts *memory.FactExtractor, background *Background, tracer trace.Tracer) *Engine {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Engine{
		opts:       opts,
		sessions:   sessions,
		workspace:  workspace,
		retriever:  retriever,
		classifier: classifier,
		registry:   registry,
		local:      local,
		premium:    premium,
		flusher:    flusher,
		facts:      facts,
		background: background,
		tracer:     tracer,
	}
}

// Background exposes the tracked task set for shutdown draining.
func (e *Engine) Background() *Background { return e.background }

// Flush forces a memory flush of the caller's session.
func (e *Engine) Flush(ctx context.Context, callerID string) {
	e.flusher.Flush(ctx, callerID)
}

// TurnRequest is one ingested user turn.
type TurnRequest struct {
	CallerID    string
	Message     string
	EnableTools bool
	Temperature float64
	MaxTokens   int
	Model       string
}

// TurnResult is the finalized assistant reply plus turn metadata.
type TurnResult struct {
	Content   string
	Model     string
	GodMode   bool
	ToolsUsed []string
	Route     string
	Toggled   bool
	Usage     *providers.Usage
}

// ProcessTurn runs the full per-turn flow: mode toggles, memory flush,
// prompt assembly, overflow trim, routing, and the tool loop.
func (e *Engine) ProcessTurn(ctx context.Context, req TurnRequest) *TurnResult {
	ctx, span := e.tracer.Start(ctx, "chat_turn",
		trace.WithAttributes(attribute.String("caller", req.CallerID)))
	defer span.End()

	e.sessions.GetOrCreate(req.CallerID)

	// Mode toggles return canned text without touching any model.
	if toggle := router.CheckGodmodeToggle(req.Message); toggle != router.ToggleNone {
		return e.handleToggle(req.CallerID, toggle)
	}

	// Flush an oversize session before the prompt is assembled.
	if e.sessions.NeedsFlush(req.CallerID) {
		e.flusher.Flush(ctx, req.CallerID)
	}

	godMode := false
	e.sessions.WithSession(req.CallerID, func(s *session.Session) { godMode = s.GodMode })

	// Workspace context honors the owner boundary.
	workspaceCtx := e.workspace.ContextFor(req.CallerID, e.opts.OwnerID)

	// Retrieval only on question-like turns.
	var ragSnippets []string
	if retrieval.ShouldRetrieve(req.Message) {
		ragSnippets = e.retriever.Search(ctx, req.Message, req.CallerID, e.opts.SearchTopK)
	}

	sessionCtx := e.sessions.Context(req.CallerID, sessionContextK)

	decision := e.classifier.Classify(req.Message)
	slog.Info("route decision",
		"caller", req.CallerID,
		"route", string(decision.Route),
		"tools", decision.ToolNames(),
		"confidence", decision.Confidence,
		"reason", decision.Reason,
	)
	span.SetAttributes(attribute.String("route", string(decision.Route)))

	// Record the user turn, then mine facts off the reply path.
	e.sessions.Append(req.CallerID, "user", req.Message, false)
	e.background.Go("fact-extract", func(bgCtx context.Context) {
		e.facts.Mine(bgCtx, req.CallerID, req.Message)
	})

	allowedTools := e.registry.ExpandGroups(decision.Tools)
	if !req.EnableTools || req.CallerID != e.opts.OwnerID {
		allowedTools = nil
	}

	modeIndicator := fmt.Sprintf("🏠 LOCAL (%s)", e.opts.LocalModel)
	if godMode {
		modeIndicator = fmt.Sprintf("⚡ GOD MODE (%s)", e.opts.PremiumModel)
	}

	manifest := ""
	if !godMode && len(allowedTools) > 0 {
		manifest = e.registry.FreeTextManifest(allowedTools)
	}

	systemPrompt := BuildSystemPrompt(PromptInput{
		WorkspaceContext: workspaceCtx,
		RAGSnippets:      ragSnippets,
		ToolsManifest:    manifest,
		SessionContext:   sessionCtx,
		ModeIndicator:    modeIndicator,
	})

	messages := []providers.Message{{Role: "user", Content: req.Message}}
	systemPrompt, messages = budget.TruncateContext(systemPrompt, messages, e.opts.ContextWindow, e.opts.MinResponseTokens)

	result := &TurnResult{GodMode: godMode, Route: string(decision.Route)}
	provider := e.pickProvider(godMode)
	result.Model = provider.DefaultModel()

	if decision.Route == router.RouteDirect {
		content, usage, err := e.callDirect(ctx, provider, systemPrompt, messages, req)
		if err == nil && strings.TrimSpace(content) != "" {
			result.Content = content
			result.Usage = usage
			e.finishTurn(req.CallerID, result)
			return result
		}
		// Direct-path fallback: one agent pass with an empty tool set.
		slog.Warn("direct call failed, falling back to agent", "error", err)
		allowedTools = nil
	}

	e.runLoop(ctx, provider, systemPrompt, messages, allowedTools, req, result)
	e.finishTurn(req.CallerID, result)
	return result
}

func (e *Engine) pickProvider(godMode bool) providers.Provider {
	if godMode && e.premium.Available() {
		return e.premium
	}
	return e.local
}

func (e *Engine) handleToggle(callerID string, toggle router.Toggle) *TurnResult {
	result := &TurnResult{Toggled: true, Route: string(router.RouteDirect)}

	if toggle == router.ToggleActivate {
		if callerID != e.opts.OwnerID {
			result.Content = godmodeOwnerOnly
			return result
		}
		e.sessions.WithSession(callerID, func(s *session.Session) { s.GodMode = true })
		result.GodMode = true
		result.Model = e.opts.PremiumModel
		ready := "❌ не инициализирован"
		if e.premium.Available() {
			ready = "✅ готов"
		}
		result.Content = fmt.Sprintf(`⚡ **Режим Бога активирован!**

🧠 **Модель:** %s
🔧 **Клиент:** %s
📊 **Контекст:** Полный (Workspace + RAG + Session)
🛠️ **Tools:** Native function calling

**Команда:** "локальный режим" или `+"`/local`"+` — вернуться к локальной модели`, e.opts.PremiumModel, ready)
		return result
	}

	e.sessions.WithSession(callerID, func(s *session.Session) { s.GodMode = false })
	result.Model = e.opts.LocalModel
	result.Content = fmt.Sprintf(`✅ **Локальный режим активирован!**

🧠 **Модель:** %s (локальная)
💰 **Стоимость:** $0

**Команда:** "режим бога" или `+"`/god`"+` — включить снова`, e.opts.LocalModel)
	return result
}

// callDirect makes a single model call with tools disabled.
func (e *Engine) callDirect(ctx context.Context, provider providers.Provider, systemPrompt string, messages []providers.Message, req TurnRequest) (string, *providers.Usage, error) {
	full := append([]providers.Message{{Role: "system", Content: systemPrompt}}, messages...)
	maxTokens := budget.DynamicMaxTokens(systemPrompt, messages, e.opts.ContextWindow, e.desiredTokensFor(provider, req), e.opts.ReserveTokens)

	chatReq := providers.ChatRequest{
		Messages: full,
		Model:    req.Model,
		Options: map[string]interface{}{
			providers.OptMaxTokens:   maxTokens,
			providers.OptTemperature: e.temperature(req),
		},
	}
	if provider.Name() == "local" && providers.NeedsThinking(req.Message) {
		chatReq.Options[providers.OptThinking] = true
	}

	resp, err := provider.Chat(ctx, chatReq)
	if err != nil {
		return "", nil, err
	}
	return providers.StripToolSyntax(resp.Content), resp.Usage, nil
}

// runLoop executes the ReAct loop up to the iteration cap.
func (e *Engine) runLoop(ctx context.Context, provider providers.Provider, systemPrompt string, messages []providers.Message, allowedTools []string, req TurnRequest, result *TurnResult) {
	full := append([]providers.Message{{Role: "system", Content: systemPrompt}}, messages...)

	structured := provider.Name() == "premium"
	var toolDefs []providers.ToolDefinition
	if structured && len(allowedTools) > 0 {
		toolDefs = e.registry.ProviderDefs(allowedTools)
	}

	fellBack := false
	for iteration := 1; iteration <= e.opts.MaxIterations; iteration++ {
		maxTokens := budget.DynamicMaxTokens("", full, e.opts.ContextWindow, e.desiredTokensFor(provider, req), e.opts.ReserveTokens)
		chatReq := providers.ChatRequest{
			Messages: full,
			Tools:    toolDefs,
			Model:    req.Model,
			Options: map[string]interface{}{
				providers.OptMaxTokens:   maxTokens,
				providers.OptTemperature: e.temperature(req),
			},
		}
		if !structured && providers.NeedsThinking(req.Message) {
			chatReq.Options[providers.OptThinking] = true
		}

		resp, err := provider.Chat(ctx, chatReq)
		if err != nil {
			content, next, switched := e.handleBackendError(err, provider, fellBack)
			if content != "" {
				result.Content = content
				return
			}
			if switched {
				provider = next
				structured = provider.Name() == "premium"
				result.Model = provider.DefaultModel()
				fellBack = true
				continue
			}
			result.Content = timeoutReply
			return
		}

		if resp.Usage != nil {
			if result.Usage == nil {
				result.Usage = &providers.Usage{}
			}
			result.Usage.PromptTokens += resp.Usage.PromptTokens
			result.Usage.CompletionTokens += resp.Usage.CompletionTokens
			result.Usage.TotalTokens += resp.Usage.TotalTokens
		}

		if len(resp.ToolCalls) == 0 {
			result.Content = providers.StripToolSyntax(resp.Content)
			return
		}

		// Execute the requested tools and feed results back in.
		toolCtx := tools.WithCaller(ctx, req.CallerID)
		if structured {
			full = append(full, providers.Message{
				Role:      "assistant",
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
		} else {
			full = append(full, providers.Message{Role: "assistant", Content: resp.Content})
		}

		for _, tc := range resp.ToolCalls {
			slog.Info("tool call", "tool", tc.Name, "caller", req.CallerID)

			_, toolSpan := e.tracer.Start(ctx, "tool_call",
				trace.WithAttributes(attribute.String("tool", tc.Name)))
			toolResult := e.registry.Execute(toolCtx, tc.Name, tc.Arguments)
			toolSpan.End()

			result.ToolsUsed = append(result.ToolsUsed, tc.Name)
			e.sessions.WithSession(req.CallerID, func(s *session.Session) { s.ToolCalls++ })
			e.sessions.Append(req.CallerID, "tool", toolResult.ForLLM, true)

			if structured {
				full = append(full, providers.Message{
					Role:       "tool",
					Content:    toolResult.ForLLM,
					ToolCallID: tc.ID,
				})
			} else {
				full = append(full, providers.Message{
					Role:    "user",
					Content: fmt.Sprintf("Результат %s:\n%s\n\nТеперь дай краткий ответ пользователю.", tc.Name, toolResult.ForLLM),
				})
			}
		}
	}

	result.Content = iterationLimitReply
}

// handleBackendError applies the propagation policy: auth errors surface,
// rate limits surface with a backoff text, everything else falls back to
// the other adapter once.
func (e *Engine) handleBackendError(err error, current providers.Provider, alreadyFellBack bool) (content string, next providers.Provider, switched bool) {
	slog.Warn("backend call failed", "provider", current.Name(), "error", err)

	if providers.IsAuthError(err) && current.Name() == "premium" {
		return authErrorReply, nil, false
	}
	if providers.IsRateLimited(err) {
		return rateLimitReply, nil, false
	}
	if alreadyFellBack {
		return "", nil, false
	}

	if current.Name() == "premium" {
		return "", e.local, true
	}
	if e.premium.Available() {
		return "", e.premium, true
	}
	return "", nil, false
}

// finishTurn records the assistant reply; empty content is replaced by
// the canonical last-resort text so the client never sees nothing.
func (e *Engine) finishTurn(callerID string, result *TurnResult) {
	if strings.TrimSpace(result.Content) == "" {
		result.Content = lastResortReply
	}
	e.sessions.Append(callerID, "assistant", result.Content, false)
}

func (e *Engine) desiredTokensFor(provider providers.Provider, req TurnRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if provider.Name() == "premium" && e.opts.PremiumMaxTokens > 0 {
		return e.opts.PremiumMaxTokens
	}
	return e.opts.DesiredMaxTokens
}

func (e *Engine) temperature(req TurnRequest) float64 {
	if req.Temperature > 0 {
		return req.Temperature
	}
	return 0.7
}
