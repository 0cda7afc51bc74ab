package memory

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/wishmasterff/animara/internal/retrieval"
	"github.com/wishmasterff/animara/internal/session"
)

// factConfidence is assigned to pattern-mined facts.
const factConfidence = 0.8

// Fact is one mined durable fact.
type Fact struct {
	Kind    string
	Content string
}

type factPattern struct {
	re       *regexp.Regexp
	kind     string
	template string
}

// Pattern table evaluated in order; first group fills the template.
var factPatterns = []factPattern{
	{regexp.MustCompile(`меня зовут\s+([А-Яа-яA-Za-z]+)`), "fact", "Пользователя зовут %s"},
	{regexp.MustCompile(`я живу\s+(?:в|на)\s+(.+?)(?:\.|,|$)`), "fact", "Пользователь живёт в %s"},
	{regexp.MustCompile(`я работаю\s+(.+?)(?:\.|,|$)`), "fact", "Пользователь работает %s"},
	{regexp.MustCompile(`я люблю\s+(.+?)(?:\.|,|$)`), "preference", "Пользователь любит %s"},
	{regexp.MustCompile(`мне нравится\s+(.+?)(?:\.|,|$)`), "preference", "Пользователю нравится %s"},
	{regexp.MustCompile(`мой проект\s+(.+?)(?:\.|,|$)`), "project", "Проект пользователя: %s"},
	{regexp.MustCompile(`я занимаюсь\s+(.+?)(?:\.|,|!|$)`), "hobby", "Пользователь занимается %s"},
	{regexp.MustCompile(`я увлекаюсь\s+(.+?)(?:\.|,|$)`), "hobby", "Пользователь увлекается %s"},
	{regexp.MustCompile(`я умею\s+(.+?)(?:\.|,|$)`), "skill", "Пользователь умеет %s"},
	{regexp.MustCompile(`я хочу\s+(.+?)(?:\.|,|$)`), "plan", "Пользователь хочет %s"},
	{regexp.MustCompile(`я планирую\s+(.+?)(?:\.|,|$)`), "plan", "Пользователь планирует %s"},
}

// ExtractFacts mines durable facts from one user turn.
func ExtractFacts(text string) []Fact {
	if len(text) < 10 {
		return nil
	}
	lower := strings.ToLower(text)

	var facts []Fact
	for _, p := range factPatterns {
		m := p.re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[1])
		if value == "" {
			continue
		}
		facts = append(facts, Fact{Kind: p.kind, Content: fmt.Sprintf(p.template, value)})
	}
	return facts
}

// MemoryInserter persists a memory record with its embedding.
type MemoryInserter interface {
	InsertMemory(ctx context.Context, rec retrieval.MemoryRecord, vector []float32) error
}

// FactExtractor mines user turns and persists new facts off the reply path.
type FactExtractor struct {
	embedder retrieval.Embedder
	store    MemoryInserter
	sessions *session.Manager
}

// NewFactExtractor wires the extractor.
func NewFactExtractor(embedder retrieval.Embedder, store MemoryInserter, sessions *session.Manager) *FactExtractor {
	return &FactExtractor{embedder: embedder, store: store, sessions: sessions}
}

// Mine extracts facts from the turn, dedupes against the session and
// inserts the new ones into the memories store. Errors are logged, never
// surfaced: this runs as a background task.
func (fe *FactExtractor) Mine(ctx context.Context, callerID, text string) {
	facts := ExtractFacts(text)
	if len(facts) == 0 {
		return
	}

	var sessionID string
	fresh := facts[:0]
	fe.sessions.WithSession(callerID, func(s *session.Session) {
		sessionID = s.ID
		for _, f := range facts {
			if _, seen := s.FactsSeen[f.Content]; seen {
				continue
			}
			s.FactsSeen[f.Content] = struct{}{}
			fresh = append(fresh, f)
		}
	})

	for _, f := range fresh {
		vector, err := fe.embedder.Embed(ctx, f.Content)
		if err != nil {
			slog.Warn("fact embedding failed", "error", err)
			continue
		}
		now := time.Now()
		rec := retrieval.MemoryRecord{
			CallerID:        callerID,
			Content:         f.Content,
			MemoryType:      f.Kind,
			Confidence:      factConfidence,
			SourceSessionID: sessionID,
			Active:          true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := fe.store.InsertMemory(ctx, rec, vector); err != nil {
			slog.Warn("fact insert failed", "error", err)
			continue
		}
		slog.Info("fact saved", "kind", f.Kind, "content", truncate(f.Content, 50))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
