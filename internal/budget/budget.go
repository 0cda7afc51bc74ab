// Package budget estimates token usage and trims oversized contexts.
//
// Estimation is character-based: one token per 3 runes, tuned for
// Cyrillic-heavy input. Latin text estimates slightly high, which the
// safety reserve absorbs.
package budget

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/wishmasterff/animara/internal/providers"
)

// RAGMarker opens the retrieved-memory section inside the system prompt.
// The trimmer locates the section by this exact string.
const RAGMarker = "## Релевантная информация из памяти:"

const (
	// perMessageOverhead approximates the role/framing cost per message.
	perMessageOverhead = 4

	minOutputFloor       = 256
	systemPromptFloor    = 500
	truncatedSuffix      = "\n[...обрезано]"
	ragTrimmedPlaceholder = "\nОбрезано.\n"
)

// Estimate returns a rough token count for a string: runes/3 rounded up,
// at least 1. Empty input is 0 tokens.
func Estimate(s string) int {
	if s == "" {
		return 0
	}
	n := (utf8.RuneCountInString(s) + 2) / 3
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateMessages sums per-message estimates plus a fixed overhead per message.
func EstimateMessages(msgs []providers.Message) int {
	total := 0
	for _, m := range msgs {
		total += Estimate(m.Content) + perMessageOverhead
	}
	return total
}

// DynamicMaxTokens computes the response budget for a request:
// input + output + reserve must fit the context window. Never below the
// floor of 256 and never above the desired cap.
func DynamicMaxTokens(systemPrompt string, msgs []providers.Message, contextWindow, desired, reserve int) int {
	input := Estimate(systemPrompt) + EstimateMessages(msgs)
	available := contextWindow - input - reserve
	result := available
	if result > desired {
		result = desired
	}
	if result < minOutputFloor {
		result = minOutputFloor
	}
	if result < desired {
		slog.Warn("dynamic max_tokens clamped", "input_tokens", input, "max_tokens", result)
	}
	return result
}

var nextSectionRe = regexp.MustCompile(`\n## `)

// TruncateContext trims an oversized prompt in priority order:
// RAG block first, then the oldest non-system history, then the system
// prompt tail. After the call the estimated total fits
// contextWindow−minResponse, or only the floored system prompt remains.
func TruncateContext(systemPrompt string, msgs []providers.Message, contextWindow, minResponse int) (string, []providers.Message) {
	total := Estimate(systemPrompt) + EstimateMessages(msgs)
	budget := contextWindow - minResponse

	if total <= budget {
		return systemPrompt, msgs
	}

	overflow := total - budget
	slog.Warn("context overflow, trimming", "estimated", total, "budget", budget, "overflow", overflow)

	// 1. Trim the RAG section.
	if idx := strings.Index(systemPrompt, RAGMarker); idx >= 0 {
		head := systemPrompt[:idx]
		tail := systemPrompt[idx+len(RAGMarker):]

		ragContent := tail
		rest := ""
		if len(tail) > 1 {
			if loc := nextSectionRe.FindStringIndex(tail[1:]); loc != nil {
				ragContent = tail[:loc[0]+1]
				rest = tail[loc[0]+1:]
			}
		}

		ragTokens := Estimate(ragContent)
		if ragTokens > overflow {
			// Partial trim: keep what fits, back-converted to runes. The
			// extra margin pays for the truncation marker and rounding so
			// the post-trim estimate stays within budget.
			target := (ragTokens - overflow - 16) * 3
			if target < 100 {
				target = 100
			}
			kept := truncateRunes(ragContent, target)
			slog.Info("trimmed RAG section", "before_tokens", ragTokens, "after_tokens", Estimate(kept))
			return head + RAGMarker + kept + truncatedSuffix + "\n" + rest, msgs
		}
		systemPrompt = head + RAGMarker + ragTrimmedPlaceholder + rest
		overflow -= ragTokens
	}

	// 2. Drop the oldest non-system messages, keeping at least the last two turns.
	for overflow > 0 && len(msgs) > 2 {
		removed := msgs[0]
		msgs = msgs[1:]
		overflow -= Estimate(removed.Content) + perMessageOverhead
	}

	// 3. Last resort: cut the system prompt tail.
	if overflow > 0 {
		target := utf8.RuneCountInString(systemPrompt) - overflow*3
		if target < systemPromptFloor {
			target = systemPromptFloor
		}
		systemPrompt = truncateRunes(systemPrompt, target) + truncatedSuffix
	}

	return systemPrompt, msgs
}

// truncateRunes cuts s to at most n runes without splitting a rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
