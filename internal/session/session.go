// Package session keeps per-caller conversation state: a bounded message
// ring with token accounting, tool-result pruning, idle expiry and
// flush-time compaction.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wishmasterff/animara/internal/budget"
)

const (
	// contextDisplayCap bounds per-message content when formatting recent
	// history for prompt inclusion.
	contextDisplayCap = 300

	// compactKeep is how many trailing messages survive a compaction.
	compactKeep = 3

	prunedMarker = "... [pruned]"
)

// Message is one conversational turn. Tool results are flagged so they
// can be pruned without losing user/assistant turns.
type Message struct {
	Role         string    `json:"role"` // "system", "user", "assistant", "tool"
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"ts"`
	Tokens       int       `json:"tokens"`
	IsToolResult bool      `json:"is_tool_result,omitempty"`
}

// Session holds the live state for one caller. All access goes through
// the Manager, which serializes per-caller operations.
type Session struct {
	ID           string
	CallerID     string
	Messages     []Message
	TotalTokens  int
	CreatedAt    time.Time
	LastActivity time.Time
	GodMode      bool
	ToolCalls    int
	FactsSeen    map[string]struct{}
	FlushCounter int
	FlushDone    bool
}

func newSession(callerID string) *Session {
	now := time.Now()
	return &Session{
		ID:           fmt.Sprintf("s_%d_%s", now.Unix(), uuid.NewString()[:6]),
		CallerID:     callerID,
		CreatedAt:    now,
		LastActivity: now,
		FactsSeen:    make(map[string]struct{}),
	}
}

// Stats is the observable session snapshot returned by the HTTP surface.
type Stats struct {
	SessionID      string `json:"id"`
	CallerID       string `json:"person_id"`
	Messages       int    `json:"messages"`
	TotalTokens    int    `json:"total_tokens"`
	FlushThreshold int    `json:"flush_threshold"`
	NeedsFlush     bool   `json:"needs_flush"`
	FlushDone      bool   `json:"flush_done"`
	ToolCalls      int    `json:"tool_calls"`
	GodMode        bool   `json:"god_mode"`
}

// append adds a message, updates the token counter and activity time,
// prunes stale tool results and evicts past the ring capacity.
// Caller must hold the session lock.
func (s *Session) append(role, content string, isToolResult bool, cfg Limits) {
	tokens := budget.Estimate(content)
	s.Messages = append(s.Messages, Message{
		Role:         role,
		Content:      content,
		Timestamp:    time.Now(),
		Tokens:       tokens,
		IsToolResult: isToolResult,
	})
	s.TotalTokens += tokens
	s.LastActivity = time.Now()

	s.pruneOldToolResults(cfg)

	for len(s.Messages) > cfg.MaxMessages {
		removed := s.Messages[0]
		s.Messages = s.Messages[1:]
		s.TotalTokens -= removed.Tokens
	}
}

// pruneOldToolResults truncates tool results that precede the N-th most
// recent assistant message, keeping the token counter consistent.
func (s *Session) pruneOldToolResults(cfg Limits) {
	assistants := 0
	pruneBefore := -1
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == "assistant" {
			assistants++
			if assistants >= cfg.PruneAfter {
				pruneBefore = i
				break
			}
		}
	}
	if pruneBefore <= 0 {
		return
	}

	for i := 0; i < pruneBefore; i++ {
		msg := &s.Messages[i]
		if !msg.IsToolResult || len(msg.Content) <= cfg.PruneToolMaxChars {
			continue
		}
		oldTokens := msg.Tokens
		msg.Content = msg.Content[:cfg.PruneToolMaxChars] + prunedMarker
		msg.Tokens = budget.Estimate(msg.Content)
		s.TotalTokens -= oldTokens - msg.Tokens
	}
}

// contextString formats the last k messages for prompt inclusion, with a
// display cap per message. The assistant is labeled by persona name.
func (s *Session) contextString(k int) string {
	if len(s.Messages) == 0 {
		return ""
	}
	start := len(s.Messages) - k
	if start < 0 {
		start = 0
	}
	var lines []string
	for _, msg := range s.Messages[start:] {
		label := "User"
		if msg.Role == "assistant" {
			label = "Animara"
		}
		content := msg.Content
		if len(content) > contextDisplayCap {
			content = content[:contextDisplayCap] + "..."
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, content))
	}
	return strings.Join(lines, "\n")
}

// compact keeps only the trailing messages, recomputes the token counter
// and bumps the flush counter.
func (s *Session) compact() {
	if len(s.Messages) > compactKeep {
		s.Messages = append([]Message(nil), s.Messages[len(s.Messages)-compactKeep:]...)
	}
	total := 0
	for _, m := range s.Messages {
		total += m.Tokens
	}
	s.TotalTokens = total
	s.FlushCounter++
}

func (s *Session) isExpired(timeout time.Duration) bool {
	return time.Since(s.LastActivity) > timeout
}

func (s *Session) stats(flushThreshold int) Stats {
	return Stats{
		SessionID:      s.ID,
		CallerID:       s.CallerID,
		Messages:       len(s.Messages),
		TotalTokens:    s.TotalTokens,
		FlushThreshold: flushThreshold,
		NeedsFlush:     s.TotalTokens > flushThreshold,
		FlushDone:      s.FlushDone,
		ToolCalls:      s.ToolCalls,
		GodMode:        s.GodMode,
	}
}
