package builtin

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"PluginHub/pkg/plugin"
)

// EventLogger writes every payload it receives on the "events:input" resource
// to the host logger. It keeps a per-team counter, so it is stateful.
type EventLogger struct {
	seen atomic.Int64
	done chan struct{}
}

// NewEventLogger returns a fresh EventLogger.
func NewEventLogger() plugin.Plugin { return &EventLogger{} }

func (l *EventLogger) Info() plugin.Info {
	return plugin.Info{
		Name:        NameEventLogger,
		Description: "Logs received payloads using the host slog logger.",
		Version:     "1.1.0",
		Imports:     []string{"log"},
	}
}

func (l *EventLogger) Setup(ctx *plugin.ExecutionContext) error {
	source, ok := ctx.Resources["events:input"].(<-chan map[string]any)
	if !ok {
		return errors.New("events input channel not provided")
	}
	log := ctx.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.Int64("team_id", ctx.TeamID), slog.Int64("plugin_config_id", ctx.PluginConfigID))
	l.done = make(chan struct{})
	go func() {
		for {
			select {
			case <-l.done:
				return
			case payload, ok := <-source:
				if !ok {
					return
				}
				l.seen.Add(1)
				log.Info("event received", slog.Any("payload", payload))
			}
		}
	}()
	return nil
}

func (l *EventLogger) Teardown(ctx *plugin.ExecutionContext) error {
	if l.done == nil {
		return nil
	}
	close(l.done)
	l.done = nil
	if hook, ok := ctx.Resources["events:onTeardown"].(func(int64) error); ok {
		if err := hook(l.seen.Load()); err != nil {
			return fmt.Errorf("teardown hook: %w", err)
		}
	}
	return nil
}

// UsedImports implements plugin.ImportReporter.
func (l *EventLogger) UsedImports() []string { return []string{"log"} }
