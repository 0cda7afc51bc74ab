package memory

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/wishmasterff/animara/internal/providers"
	"github.com/wishmasterff/animara/internal/retrieval"
	"github.com/wishmasterff/animara/internal/session"
)

const (
	flushMaxTokens   = 500
	flushTemperature = 0.3
	flushTimeout     = 60 * time.Second
	flushConfidence  = 0.7
	flushContextK    = 10
)

const flushPromptHeader = `Проанализируй диалог и выдели 3-7 ВАЖНЫХ фактов для долговременной памяти.
Если ничего важного нет — ответь NONE.

ДИАЛОГ:
`

const flushPromptFooter = `

Формат ответа — только маркированный список:
• Факт 1
• Факт 2
...`

// Flusher summarizes an oversize session into durable memory and
// compacts the live message ring.
type Flusher struct {
	provider  providers.Provider
	workspace *Workspace
	embedder  retrieval.Embedder
	store     MemoryInserter
	sessions  *session.Manager
}

// NewFlusher wires the memory flush.
func NewFlusher(provider providers.Provider, workspace *Workspace, embedder retrieval.Embedder, store MemoryInserter, sessions *session.Manager) *Flusher {
	return &Flusher{
		provider:  provider,
		workspace: workspace,
		embedder:  embedder,
		store:     store,
		sessions:  sessions,
	}
}

// Flush summarizes the caller's session and persists the summary. A
// failed flush is non-fatal: the turn continues and the threshold will
// re-trigger next time.
func (f *Flusher) Flush(ctx context.Context, callerID string) {
	context10 := f.sessions.Context(callerID, flushContextK)
	if context10 == "" {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	resp, err := f.provider.Chat(sctx, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: flushPromptHeader + context10 + flushPromptFooter}},
		Options: map[string]interface{}{
			providers.OptMaxTokens:   flushMaxTokens,
			providers.OptTemperature: flushTemperature,
		},
	})
	if err != nil {
		slog.Warn("memory flush failed", "caller", callerID, "error", err)
		return
	}

	summary := strings.TrimSpace(resp.Content)
	if summary == "" || strings.EqualFold(summary, "NONE") {
		slog.Info("memory flush: nothing durable", "caller", callerID)
		f.finishFlush(callerID)
		return
	}

	if err := f.workspace.WriteMemory("Memory Flush", summary); err != nil {
		slog.Warn("memory flush: workspace write failed", "error", err)
	}

	var sessionID string
	f.sessions.WithSession(callerID, func(s *session.Session) { sessionID = s.ID })

	for _, line := range strings.Split(summary, "\n") {
		fact := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "•-* "))
		if fact == "" {
			continue
		}
		vector, err := f.embedder.Embed(sctx, fact)
		if err != nil {
			slog.Warn("memory flush: embedding failed", "error", err)
			continue
		}
		now := time.Now()
		rec := retrieval.MemoryRecord{
			CallerID:        callerID,
			Content:         fact,
			MemoryType:      "flush",
			Confidence:      flushConfidence,
			SourceSessionID: sessionID,
			Active:          true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := f.store.InsertMemory(sctx, rec, vector); err != nil {
			slog.Warn("memory flush: insert failed", "error", err)
		}
	}

	f.finishFlush(callerID)
	slog.Info("memory flushed", "caller", callerID)
}

func (f *Flusher) finishFlush(callerID string) {
	f.sessions.WithSession(callerID, func(s *session.Session) {
		s.FlushDone = true
	})
	f.sessions.Compact(callerID)
}
