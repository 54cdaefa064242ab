package reconcile

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Runner drives an Engine: one cycle at start, then one per interval tick
// and one per trigger. Triggers arriving while a cycle runs coalesce into a
// single follow-up cycle.
type Runner struct {
	engine   *Engine
	interval time.Duration
	triggers chan string
	log      *slog.Logger

	last  atomic.Pointer[Result]
	ready atomic.Bool
}

// NewRunner returns a runner. A zero interval disables periodic cycles.
func NewRunner(engine *Engine, interval time.Duration) *Runner {
	return &Runner{
		engine:   engine,
		interval: interval,
		triggers: make(chan string, 1),
		log:      engine.log.With(slog.String("component", "reconcile-runner")),
	}
}

// Trigger requests a cycle. It never blocks and reports whether the request
// was queued rather than merged into one already pending.
func (r *Runner) Trigger(reason string) bool {
	select {
	case r.triggers <- reason:
		return true
	default:
		return false
	}
}

// Ready reports whether a cycle has published a registry.
func (r *Runner) Ready() bool { return r.ready.Load() }

// LastResult returns the result of the latest successful cycle.
func (r *Runner) LastResult() *Result { return r.last.Load() }

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.runCycle(ctx, "startup")

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			r.runCycle(ctx, "interval")
		case reason := <-r.triggers:
			r.runCycle(ctx, reason)
		}
	}
}

func (r *Runner) runCycle(ctx context.Context, reason string) {
	res, err := r.engine.Cycle(ctx)
	if err != nil {
		r.log.Error("reconcile cycle failed", slog.String("reason", reason), slog.Any("error", err))
		return
	}
	r.last.Store(res)
	r.ready.Store(true)
	attrs := []any{
		slog.String("reason", reason),
		slog.String("cycle_id", res.CycleID),
		slog.Int("configurations", res.Registry.Len()),
		slog.Duration("elapsed", res.Duration),
	}
	if len(res.Errors) > 0 {
		r.log.Warn("reconcile cycle finished with load failures", append(attrs, slog.Any("error", res.Err()))...)
		return
	}
	r.log.Info("reconcile cycle finished", attrs...)
}
