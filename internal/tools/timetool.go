package tools

import (
	"context"
	"fmt"
	"time"
)

// TimeNowTool reports the current date and time.
type TimeNowTool struct{}

func NewTimeNowTool() *TimeNowTool { return &TimeNowTool{} }

func (t *TimeNowTool) Name() string        { return "time_now" }
func (t *TimeNowTool) Description() string { return "Узнать текущую дату и время." }
func (t *TimeNowTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
		"required":   []string{},
	}
}

func (t *TimeNowTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	now := time.Now()
	return NewResult(fmt.Sprintf("🕐 Сейчас %s, %s", now.Format("15:04"), now.Format("2006-01-02 (Monday)")))
}
