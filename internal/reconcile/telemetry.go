package reconcile

import "PluginHub/internal/registry"

// reportImports rebuilds the import usage indicators from reg. Each plugin is
// reported once, from the first configuration whose unit exposes imports.
func (e *Engine) reportImports(reg *registry.Registry) {
	if e.gauge == nil {
		return
	}
	e.gauge.Reset()
	seen := make(map[int64]struct{})
	for _, cfg := range reg.Configurations() {
		if _, ok := seen[cfg.PluginID]; ok || cfg.Unit == nil {
			continue
		}
		imports := cfg.Unit.UsedImports()
		if imports == nil {
			continue
		}
		seen[cfg.PluginID] = struct{}{}
		for _, name := range imports {
			e.gauge.Set(name, cfg.PluginID, 1)
		}
	}
}
