package session

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimits() Limits {
	return Limits{
		MaxMessages:       20,
		Timeout:           30 * time.Minute,
		PruneAfter:        3,
		PruneToolMaxChars: 200,
		FlushThreshold:    28000,
	}
}

func sumTokens(s *Session) int {
	total := 0
	for _, m := range s.Messages {
		total += m.Tokens
	}
	return total
}

func TestTokenAccountingInvariant(t *testing.T) {
	m := NewManager(testLimits())
	m.Append("owner", "user", "привет, меня зовут Сергей", false)
	m.Append("owner", "assistant", "Привет!", false)
	m.Append("owner", "tool", strings.Repeat("x", 500), true)
	m.Append("owner", "assistant", "Готово", false)

	m.WithSession("owner", func(s *Session) {
		assert.Equal(t, sumTokens(s), s.TotalTokens)
	})
}

func TestRingEviction(t *testing.T) {
	m := NewManager(testLimits())
	for i := 0; i < 50; i++ {
		m.Append("owner", "user", strings.Repeat("щ", 30), false)
	}
	m.WithSession("owner", func(s *Session) {
		assert.Len(t, s.Messages, 20)
		assert.Equal(t, sumTokens(s), s.TotalTokens)
	})
}

func TestToolResultPruning(t *testing.T) {
	m := NewManager(testLimits())

	longTool := strings.Repeat("result ", 100) // 700 chars

	// Old turn with a big tool result.
	m.Append("owner", "user", "покажи задачи", false)
	m.Append("owner", "tool", longTool, true)
	m.Append("owner", "assistant", "вот задачи", false)

	// Two more assistant turns push the tool result past the prune horizon.
	m.Append("owner", "user", "ещё раз", false)
	m.Append("owner", "assistant", "ответ два", false)
	m.Append("owner", "user", "и снова", false)
	m.Append("owner", "assistant", "ответ три", false)

	m.WithSession("owner", func(s *Session) {
		var pruned *Message
		for i := range s.Messages {
			if s.Messages[i].IsToolResult {
				pruned = &s.Messages[i]
			}
		}
		require.NotNil(t, pruned)
		assert.True(t, strings.HasSuffix(pruned.Content, "... [pruned]"), "content: %q", pruned.Content)
		assert.LessOrEqual(t, len(pruned.Content), 200+len("... [pruned]"))
		assert.Equal(t, sumTokens(s), s.TotalTokens)
	})
}

func TestCompact(t *testing.T) {
	m := NewManager(testLimits())
	for i := 0; i < 10; i++ {
		m.Append("owner", "user", "сообщение", false)
	}
	m.Compact("owner")

	m.WithSession("owner", func(s *Session) {
		assert.LessOrEqual(t, len(s.Messages), 3)
		assert.Equal(t, sumTokens(s), s.TotalTokens)
		assert.Equal(t, 1, s.FlushCounter)
	})
}

func TestExpiry(t *testing.T) {
	limits := testLimits()
	limits.Timeout = 10 * time.Millisecond
	m := NewManager(limits)

	first := m.GetOrCreate("owner")
	time.Sleep(20 * time.Millisecond)
	second := m.GetOrCreate("owner")
	assert.NotEqual(t, first.ID, second.ID, "expired session must be replaced")
}

func TestExpireIdle(t *testing.T) {
	limits := testLimits()
	limits.Timeout = 10 * time.Millisecond
	m := NewManager(limits)

	m.GetOrCreate("a")
	m.GetOrCreate("b")
	time.Sleep(20 * time.Millisecond)

	expired := m.ExpireIdle()
	assert.Len(t, expired, 2)
	assert.Equal(t, 0, m.ActiveCount())
}

func TestStats(t *testing.T) {
	m := NewManager(testLimits())
	m.Append("owner", "user", "привет", false)

	stats, ok := m.Stats("owner")
	require.True(t, ok)
	assert.Equal(t, "owner", stats.CallerID)
	assert.Equal(t, 1, stats.Messages)
	assert.False(t, stats.NeedsFlush)
	assert.Equal(t, 28000, stats.FlushThreshold)

	_, ok = m.Stats("stranger")
	assert.False(t, ok)
}

func TestContextFormatting(t *testing.T) {
	m := NewManager(testLimits())
	m.Append("owner", "user", "привет", false)
	m.Append("owner", "assistant", "здравствуй", false)
	m.Append("owner", "user", strings.Repeat("д", 400), false)

	ctx := m.Context("owner", 6)
	lines := strings.Split(ctx, "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "User: "))
	assert.True(t, strings.HasPrefix(lines[1], "Animara: "))
	assert.True(t, strings.HasSuffix(lines[2], "..."), "long content is display-capped")
}

func TestConcurrentAppends(t *testing.T) {
	m := NewManager(testLimits())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.Append("owner", "user", "конкурентное сообщение", false)
			}
		}()
	}
	wg.Wait()

	m.WithSession("owner", func(s *Session) {
		assert.Equal(t, sumTokens(s), s.TotalTokens)
		assert.LessOrEqual(t, len(s.Messages), 20)
	})
}
