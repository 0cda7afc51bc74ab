package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wishmasterff/animara/internal/budget"
)

func TestBuildSystemPrompt(t *testing.T) {
	prompt := BuildSystemPrompt(PromptInput{
		WorkspaceContext: "Ты — Animara.",
		RAGSnippets:      []string{"пользователь любит кофе", strings.Repeat("длинный сниппет ", 30)},
		ToolsManifest:    "ДОСТУПНЫЕ ИНСТРУМЕНТЫ:\n• web_search",
		SessionContext:   "User: привет\nAnimara: здравствуй",
		ModeIndicator:    "🏠 LOCAL (qwen3)",
	})

	assert.True(t, strings.HasPrefix(prompt, "Ты — Animara."))
	assert.Contains(t, prompt, budget.RAGMarker)
	assert.Contains(t, prompt, "• пользователь любит кофе")
	assert.Contains(t, prompt, "ДОСТУПНЫЕ ИНСТРУМЕНТЫ")
	assert.Contains(t, prompt, "НЕДАВНИЙ ДИАЛОГ:")
	assert.Contains(t, prompt, "[🏠 LOCAL (qwen3)]")
	assert.Contains(t, prompt, "КРИТИЧЕСКИЕ ПРАВИЛА:")

	// Snippets are capped for prompt inclusion.
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "• ") {
			assert.LessOrEqual(t, len(line), len("• ")+200)
		}
	}
}

func TestBuildSystemPromptMinimal(t *testing.T) {
	prompt := BuildSystemPrompt(PromptInput{WorkspaceContext: "персона"})
	assert.NotContains(t, prompt, budget.RAGMarker)
	assert.NotContains(t, prompt, "НЕДАВНИЙ ДИАЛОГ")
	assert.Contains(t, prompt, "КРИТИЧЕСКИЕ ПРАВИЛА:")
}
