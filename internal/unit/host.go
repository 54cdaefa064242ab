package unit

import (
	"log/slog"

	"PluginHub/internal/registry"
	"PluginHub/pkg/logger"
	"PluginHub/pkg/plugin"
)

// Host is the process context every unit is created with: where plugin code
// comes from, how it is isolated and which shared resources it may use.
type Host struct {
	Loader    plugin.Loader
	Isolation plugin.IsolationStrategy
	Sandbox   plugin.SandboxConfig
	// Resources are handed to every plugin through its ExecutionContext.
	Resources map[string]any
	Logger    *slog.Logger
}

func (h *Host) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return logger.Named("unit")
}

func (h *Host) isolation() plugin.IsolationStrategy {
	return plugin.NewIsolationStrategy(h.Isolation)
}

// Factory creates an Uninitialized unit for a configuration of plugin p.
type Factory func(host *Host, cfg *registry.Configuration, p *registry.Plugin) registry.ExecutionUnit

// NewFactory returns the Factory producing LazyUnits.
func NewFactory() Factory {
	return func(host *Host, cfg *registry.Configuration, p *registry.Plugin) registry.ExecutionUnit {
		return NewLazy(host, cfg, p)
	}
}
