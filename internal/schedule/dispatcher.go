package schedule

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	xerrors "PluginHub/internal/errors"
	"PluginHub/internal/observability/metrics"
	"PluginHub/internal/task"
	"PluginHub/pkg/logger"
	"PluginHub/pkg/plugin"
)

// DueTasks returns the scheduled tasks due at the minute containing now.
// runEveryHour fires at minute zero, runEveryDay at midnight UTC.
func DueTasks(now time.Time) []string {
	now = now.UTC()
	due := []string{string(plugin.TaskRunEveryMinute)}
	if now.Minute() == 0 {
		due = append(due, string(plugin.TaskRunEveryHour))
		if now.Hour() == 0 {
			due = append(due, string(plugin.TaskRunEveryDay))
		}
	}
	return due
}

// Dispatcher publishes a job per due task and configuration every minute.
type Dispatcher struct {
	builder  *Builder
	producer task.Producer
	log      *slog.Logger
}

// NewDispatcher returns a dispatcher reading builder's schedule.
func NewDispatcher(builder *Builder, producer task.Producer) *Dispatcher {
	return &Dispatcher{builder: builder, producer: producer, log: logger.Named("schedule-dispatcher")}
}

// Dispatch publishes the jobs due at now and returns how many were published.
func (d *Dispatcher) Dispatch(ctx context.Context, now time.Time) (int, error) {
	s := d.builder.Schedule()
	published := 0
	var errs error
	for _, name := range DueTasks(now) {
		for _, id := range s[name] {
			job := task.Job{ConfigID: id, Task: name}
			if err := d.producer.Publish(ctx, job.String()); err != nil {
				errs = multierr.Append(errs, xerrors.Wrap(task.CodeJobPublish, err, "publish "+job.String()))
				continue
			}
			metrics.ObserveTaskDispatch(name)
			published++
		}
	}
	return published, errs
}

// Run dispatches at the start of every minute until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		now := time.Now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case fired := <-timer.C:
			n, err := d.Dispatch(ctx, fired)
			if err != nil {
				d.log.Warn("scheduled job publication failed", slog.Any("error", err), slog.Int("published", n))
				continue
			}
			d.log.Debug("scheduled jobs published", slog.Int("published", n))
		}
	}
}
