package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func hasTools(d Decision, want ...string) bool {
	for _, w := range want {
		if _, ok := d.Tools[w]; !ok {
			return false
		}
	}
	return true
}

func TestClassify(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		input     string
		wantRoute Route
		wantTools []string
	}{
		// Direct
		{"привет", RouteDirect, nil},
		{"Привет, как дела?", RouteDirect, nil},
		{"здравствуйте", RouteDirect, nil},
		{"добрый вечер", RouteDirect, nil},
		{"hi there", RouteDirect, nil},
		{"спасибо!", RouteDirect, nil},
		{"пока", RouteDirect, nil},
		{"кто ты?", RouteDirect, nil},
		{"что ты умеешь?", RouteDirect, nil},
		{"что такое нейронная сеть?", RouteDirect, nil},
		{"объясни квантовые вычисления", RouteDirect, nil},
		{"напиши стихотворение про зиму", RouteDirect, nil},
		{"переведи на английский: я люблю кофе", RouteDirect, nil},
		{"как написать сортировку на python", RouteDirect, nil},
		{"помоги мне разобраться с git rebase", RouteDirect, nil},
		{"ок", RouteDirect, nil},

		// Agent with specific tool sets
		{"покажи мои задачи", RouteAgent, []string{"task"}},
		{"создай задачу: купить молоко", RouteAgent, []string{"task"}},
		{"найди в интернете про Бали", RouteAgent, []string{"web"}},
		{"какая погода на Бали?", RouteAgent, []string{"web"}},
		{"прочитай файл /animara/SOUL.md", RouteAgent, []string{"fs"}},
		{"запомни что я люблю кофе", RouteAgent, []string{"memory"}},
		{"что ты помнишь обо мне?", RouteAgent, []string{"memory", "vector"}},
		{"который час?", RouteAgent, []string{"time"}},
		{"покажи nvidia-smi", RouteAgent, []string{"shell"}},
		{"какое состояние GPU?", RouteAgent, []string{"shell"}},
		{"покажи мой календарь", RouteAgent, []string{"calendar"}},
		{"проверь почту", RouteAgent, []string{"mail"}},
		{"отправь письмо Ульяне", RouteAgent, []string{"mail"}},

		// Combined tool sets
		{"утренняя сводка", RouteAgent, []string{"time", "calendar", "mail", "task"}},
		{"дай полный отчёт о системе", RouteAgent, []string{"shell", "task", "calendar"}},

		// Slash commands
		{"/god", RouteDirect, nil}, // god mode toggle special case
		{"/status", RouteAgent, nil},
		{"/tasks", RouteAgent, nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d := c.Classify(tt.input)
			assert.Equal(t, tt.wantRoute, d.Route, "reason: %s", d.Reason)
			if len(tt.wantTools) > 0 {
				assert.True(t, hasTools(d, tt.wantTools...),
					"want tools %v in %v (reason: %s)", tt.wantTools, d.ToolNames(), d.Reason)
			}
		})
	}
}

func TestClassifyDefaults(t *testing.T) {
	c := NewClassifier()

	// Short ambiguous message → direct.
	d := c.Classify("мм ну да")
	assert.Equal(t, RouteDirect, d.Route)

	// Long ambiguous message → agent with empty (unrestricted) tool set.
	long := "вчера вечером мы долго гуляли по набережной и обсуждали планы на следующее лето в разных странах мира вместе"
	d = c.Classify(long)
	assert.Equal(t, RouteAgent, d.Route)
	assert.Empty(t, d.Tools)
}

func TestKeywordScoringExactOverlap(t *testing.T) {
	c := NewClassifier()

	// Exact keyword tokens that hit no level-1/level-2 pattern reach the
	// keyword scorer: three of three → agent.
	d := c.Classify("время статус мониторинг")
	assert.Equal(t, RouteAgent, d.Route, "reason: %s", d.Reason)
	assert.Contains(t, d.Reason, "keyword score")
	assert.True(t, hasTools(d, "time"), "guessed tools: %v", d.ToolNames())

	// Inflected forms of keyword stems are not overlap: «команда» and
	// «отчётливо» merely start with stems from the keyword set, so the
	// short message falls through to the direct default.
	d = c.Classify("наша команда отчётливо сильнее")
	assert.Equal(t, RouteDirect, d.Route, "reason: %s", d.Reason)
}

func TestClassifierStats(t *testing.T) {
	c := NewClassifier()
	c.Classify("привет")
	c.Classify("покажи мои задачи")
	c.Classify("пока")

	stats := c.Stats()
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.Direct)
	assert.Equal(t, int64(1), stats.Agent)
}

func TestCheckGodmodeToggle(t *testing.T) {
	assert.Equal(t, ToggleActivate, CheckGodmodeToggle("режим бога"))
	assert.Equal(t, ToggleActivate, CheckGodmodeToggle("  /god "))
	assert.Equal(t, ToggleActivate, CheckGodmodeToggle("GOD MODE"))
	assert.Equal(t, ToggleDeactivate, CheckGodmodeToggle("локальный режим"))
	assert.Equal(t, ToggleDeactivate, CheckGodmodeToggle("/local"))
	assert.Equal(t, ToggleDeactivate, CheckGodmodeToggle("выход"))

	// Exact-match only: embedded phrases do not toggle.
	assert.Equal(t, ToggleNone, CheckGodmodeToggle("расскажи про режим бога в играх"))
	assert.Equal(t, ToggleNone, CheckGodmodeToggle("привет"))
}
