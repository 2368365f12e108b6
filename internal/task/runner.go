// Package task provides the async boundary for fire-and-forget work. Each
// task runs in its own goroutine with panic recovery; the spawning caller
// never observes the outcome.
package task

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Runner executes named background tasks and drains them on shutdown.
type Runner struct {
	Logger  zerolog.Logger
	Timeout time.Duration

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// Go schedules fn on its own goroutine. Errors and panics are logged under
// the task name and never propagate. After Close new tasks are dropped.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.Logger.Warn().Str("task", name).Msg("task_dropped_after_close")
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.Logger.Error().Str("task", name).Interface("panic", rec).Msg("task_panic")
			}
		}()
		ctx := context.Background()
		if r.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.Timeout)
			defer cancel()
		}
		if err := fn(ctx); err != nil {
			r.Logger.Error().Str("task", name).Err(err).Msg("task_failed")
		}
	}()
}

// Close waits for in-flight tasks to settle. Subsequent Go calls are no-ops.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}
