package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Background runs fire-and-forget work (fact mining, finalization
// summaries) as a tracked, bounded task set so shutdown can drain it.
type Background struct {
	wg  sync.WaitGroup
	sem chan struct{}
}

// NewBackground creates a task set with at most n concurrent tasks.
func NewBackground(n int) *Background {
	if n <= 0 {
		n = 8
	}
	return &Background{sem: make(chan struct{}, n)}
}

// Go launches fn on its own goroutine, bounded by the semaphore. When the
// set is saturated the task is dropped with a log line rather than
// blocking the reply path.
func (b *Background) Go(name string, fn func(ctx context.Context)) {
	select {
	case b.sem <- struct{}{}:
	default:
		slog.Warn("background task dropped, queue full", "task", name)
		return
	}

	b.wg.Add(1)
	go func() {
		defer func() {
			<-b.sem
			b.wg.Done()
			if r := recover(); r != nil {
				slog.Error("background task panicked", "task", name, "panic", r)
			}
		}()
		fn(context.Background())
	}()
}

// Drain waits for in-flight tasks up to the grace period.
func (b *Background) Drain(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("background drain timed out", "grace", grace)
	}
}
