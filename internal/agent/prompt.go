package agent

import (
	"fmt"
	"strings"

	"github.com/wishmasterff/animara/internal/budget"
)

// rulesBlock forbids hallucinated tool use. It is appended to every
// system prompt verbatim.
const rulesBlock = `КРИТИЧЕСКИЕ ПРАВИЛА:
1. НИКОГДА не говори что сделал действие, если не вызвал инструмент!
2. Для создания задачи — ОБЯЗАТЕЛЬНО вызови task_create
3. Для поиска в интернете — ОБЯЗАТЕЛЬНО вызови web_search
4. Если не можешь что-то сделать — честно скажи "У меня нет такого инструмента"
5. НЕ ГАЛЛЮЦИНИРУЙ! Не выдумывай данные!

ИНСТРУКЦИИ:
- Простые вопросы → краткий ответ (1-3 предложения)
- Актуальная информация (погода, новости, цены) → используй инструмент
- Создать/добавить задачу → используй инструмент
- Список задач → используй инструмент
- Логика, математика, код → думай пошагово`

// PromptInput collects the pieces of one turn's system prompt.
type PromptInput struct {
	WorkspaceContext string
	RAGSnippets      []string
	ToolsManifest    string // free-text manifest, local backend only
	SessionContext   string
	ModeIndicator    string
}

// BuildSystemPrompt assembles the system prompt: workspace ⊕ RAG block ⊕
// tools manifest ⊕ recent session ⊕ rules. The RAG block starts with the
// budget.RAGMarker so the overflow trimmer can find it.
func BuildSystemPrompt(in PromptInput) string {
	var b strings.Builder
	b.WriteString(in.WorkspaceContext)

	if len(in.RAGSnippets) > 0 {
		b.WriteString("\n\n")
		b.WriteString(budget.RAGMarker)
		b.WriteString("\n")
		for _, s := range in.RAGSnippets {
			if len(s) > 200 {
				s = s[:200]
			}
			b.WriteString("• ")
			b.WriteString(s)
			b.WriteString("\n")
		}
	}

	if in.ToolsManifest != "" {
		b.WriteString("\n\n")
		b.WriteString(in.ToolsManifest)
	}

	if in.SessionContext != "" {
		b.WriteString("\n\nНЕДАВНИЙ ДИАЛОГ:\n")
		b.WriteString(in.SessionContext)
	}

	if in.ModeIndicator != "" {
		b.WriteString(fmt.Sprintf("\n\n[%s]", in.ModeIndicator))
	}

	b.WriteString("\n\n")
	b.WriteString(rulesBlock)
	return b.String()
}
