package builtin

import (
	"log/slog"
	"sync/atomic"

	"PluginHub/pkg/plugin"
)

// Heartbeat carries no tenant state and exports scheduled tasks that only log
// and count. It is the reference stateless plugin.
type Heartbeat struct {
	beats atomic.Int64
}

// NewHeartbeat returns a fresh Heartbeat.
func NewHeartbeat() plugin.Plugin { return &Heartbeat{} }

func (h *Heartbeat) Info() plugin.Info {
	return plugin.Info{
		Name:        NameHeartbeat,
		Description: "Emits a log line on every scheduled tick.",
		Version:     "1.0.0",
	}
}

func (h *Heartbeat) Setup(*plugin.ExecutionContext) error { return nil }

func (h *Heartbeat) Teardown(*plugin.ExecutionContext) error { return nil }

func (h *Heartbeat) Tasks() []plugin.Task {
	return []plugin.Task{plugin.TaskRunEveryMinute, plugin.TaskRunEveryHour}
}

func (h *Heartbeat) RunTask(ctx *plugin.ExecutionContext, task plugin.Task) error {
	n := h.beats.Add(1)
	if ctx.Logger != nil {
		ctx.Logger.Debug("heartbeat", slog.String("task", string(task)), slog.Int64("beats", n))
	}
	return nil
}

// Beats returns how many tasks ran.
func (h *Heartbeat) Beats() int64 { return h.beats.Load() }
