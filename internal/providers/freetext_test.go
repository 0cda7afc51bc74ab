package providers

import "testing"

func TestParseFreeTextToolCall(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantName string
		wantArg  map[string]interface{}
	}{
		{
			name:     "tool block",
			input:    `Сейчас проверю. <tool>{"name": "task_list", "params": {}}</tool>`,
			wantName: "task_list",
		},
		{
			name:     "tool block with params",
			input:    `<tool>{"name": "web_search", "params": {"query": "погода Бали"}}</tool>`,
			wantName: "web_search",
			wantArg:  map[string]interface{}{"query": "погода Бали"},
		},
		{
			name:     "fallback call form",
			input:    `task_create("купить молоко")`,
			wantName: "task_create",
			wantArg:  map[string]interface{}{"title": "купить молоко"},
		},
		{
			name:     "fallback no-arg form",
			input:    `system_check()`,
			wantName: "system_check",
		},
		{
			name:  "plain answer",
			input: "Привет! Чем могу помочь?",
		},
		{
			name:  "broken json ignored",
			input: `<tool>{"name": }</tool>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseFreeTextToolCall(tt.input)
			if tt.wantName == "" {
				if got != nil {
					t.Fatalf("expected nil, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatalf("expected call %q, got nil", tt.wantName)
			}
			if got.Name != tt.wantName {
				t.Errorf("name = %q, want %q", got.Name, tt.wantName)
			}
			for k, v := range tt.wantArg {
				if got.Arguments[k] != v {
					t.Errorf("arg %q = %v, want %v", k, got.Arguments[k], v)
				}
			}
		})
	}
}

func TestCleanThinkBlocks(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no think", "обычный ответ", "обычный ответ"},
		{"closed think", "<think>рассуждения</think>ответ", "ответ"},
		{"think only falls back to contents", "<think>вот мой ответ</think>", "вот мой ответ"},
		{"unclosed think with nothing outside", "<think>незакрытый ответ", "незакрытый ответ"},
		{"multiple blocks", "<think>a</think>x<think>b</think>y", "xy"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanThinkBlocks(tt.input); got != tt.want {
				t.Errorf("CleanThinkBlocks(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStripToolSyntax(t *testing.T) {
	in := `Готово! <tool>{"name": "task_create", "params": {"title": "x"}}</tool>`
	if got := StripToolSyntax(in); got != "Готово!" {
		t.Errorf("StripToolSyntax = %q", got)
	}
}

func TestNeedsThinking(t *testing.T) {
	positives := []string{
		"сколько будет 2 + 2",
		"посчитай проценты",
		"напиши код сортировки",
		"составь план на неделю",
		"реши задачу про волка козу и капусту",
	}
	for _, s := range positives {
		if !NeedsThinking(s) {
			t.Errorf("NeedsThinking(%q) = false, want true", s)
		}
	}
	if NeedsThinking("привет, как дела?") {
		t.Error("greeting should not trigger thinking mode")
	}
}
