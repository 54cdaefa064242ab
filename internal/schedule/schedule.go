// Package schedule turns a published registry into the set of scheduled
// plugin tasks and publishes due jobs to the task queue every minute.
package schedule

import (
	"context"
	"log/slog"
	"sync/atomic"

	"PluginHub/internal/registry"
	"PluginHub/pkg/logger"
	"PluginHub/pkg/plugin"
)

// Schedule maps a scheduled task name to the ascending ids of the
// configurations whose unit exports it.
type Schedule map[string][]int64

// Clone returns a deep copy.
func (s Schedule) Clone() Schedule {
	out := make(Schedule, len(s))
	for task, ids := range s {
		out[task] = append([]int64(nil), ids...)
	}
	return out
}

// Build collects the schedule of reg. Only Ready units that can run tasks
// contribute.
func Build(reg *registry.Registry) Schedule {
	s := make(Schedule, len(plugin.ScheduledTasks))
	for _, task := range plugin.ScheduledTasks {
		s[string(task)] = []int64{}
	}
	for _, cfg := range reg.Configurations() {
		runner, ok := cfg.Unit.(registry.TaskUnit)
		if !ok || runner.State() != registry.StateReady {
			continue
		}
		for _, task := range runner.ScheduledTasks() {
			if ids, known := s[task]; known {
				s[task] = append(ids, cfg.ID)
			}
		}
	}
	return s
}

// Builder keeps the schedule of the latest published registry.
type Builder struct {
	current atomic.Pointer[Schedule]
	log     *slog.Logger
}

// NewBuilder returns a builder holding an empty schedule.
func NewBuilder() *Builder {
	b := &Builder{log: logger.Named("schedule")}
	empty := Schedule{}
	b.current.Store(&empty)
	return b
}

// BuildSchedule rebuilds the schedule from reg.
func (b *Builder) BuildSchedule(_ context.Context, reg *registry.Registry) error {
	s := Build(reg)
	b.current.Store(&s)
	attrs := make([]any, 0, len(s))
	for _, task := range plugin.ScheduledTasks {
		attrs = append(attrs, slog.Int(string(task), len(s[string(task)])))
	}
	b.log.Debug("schedule rebuilt", attrs...)
	return nil
}

// Schedule returns a copy of the current schedule.
func (b *Builder) Schedule() Schedule {
	return b.current.Load().Clone()
}
