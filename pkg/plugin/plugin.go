package plugin

import (
	"context"
	"log/slog"
)

// Plugin defines the lifecycle hooks that each plugin implementation must satisfy.
type Plugin interface {
	// Info returns the static metadata for the plugin.
	Info() Info
	// Setup prepares the plugin for event processing. It runs once per
	// execution unit.
	Setup(ctx *ExecutionContext) error
	// Teardown releases everything Setup acquired.
	Teardown(ctx *ExecutionContext) error
}

// ImportReporter is implemented by plugins that can tell which of the host
// imports they actually touched during Setup.
type ImportReporter interface {
	UsedImports() []string
}

// TaskRunner is implemented by plugins exporting scheduled tasks.
type TaskRunner interface {
	Tasks() []Task
	RunTask(ctx *ExecutionContext, task Task) error
}

// ExecutionContext is passed to plugins for every lifecycle stage.
type ExecutionContext struct {
	// C is the underlying context for cancellation and deadlines.
	C context.Context
	// PluginConfigID and TeamID identify the configuration the unit was
	// created for. Shared units carry the values of the configuration that
	// created them.
	PluginConfigID int64
	TeamID         int64
	// Config holds the tenant settings of the configuration.
	Config map[string]any
	// Resources exposes shared services supplied by the host application.
	Resources map[string]any
	Logger    *slog.Logger
}

// Clone returns a shallow copy of the execution context so plugins can safely mutate maps.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return nil
	}
	dup := *c
	dup.Config = cloneMap(c.Config)
	dup.Resources = cloneMap(c.Resources)
	return &dup
}

// WithContext returns a copy bound to ctx.
func (c *ExecutionContext) WithContext(ctx context.Context) *ExecutionContext {
	dup := c.Clone()
	dup.C = ctx
	return dup
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
