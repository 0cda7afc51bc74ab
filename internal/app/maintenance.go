package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// maintenanceLoop expires idle sessions and rebuilds the lexical index
// on the configured cron schedule.
func (c *Core) maintenanceLoop(ctx context.Context) {
	expr := c.Config.Server.Maintenance
	g := gronx.New()
	if expr == "" || !g.IsValid(expr) {
		if expr != "" {
			slog.Warn("invalid maintenance schedule, using default", "expr", expr)
		}
		expr = "*/10 * * * *"
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := g.IsDue(expr, time.Now())
			if err != nil || !due {
				continue
			}

			expired := c.Sessions.ExpireIdle()
			for _, callerID := range expired {
				slog.Info("idle session torn down", "caller", callerID)
			}

			rctx, cancel := context.WithTimeout(ctx, time.Minute)
			if err := c.BM25.Rebuild(rctx); err != nil {
				slog.Warn("scheduled BM25 rebuild failed", "error", err)
			}
			cancel()
		}
	}
}
