package unit

import "PluginHub/internal/registry"

// Pool maps a stateless plugin id to the single unit shared by all of its
// configurations. The engine creates one per cycle and discards it afterwards.
type Pool struct {
	units map[int64]registry.ExecutionUnit
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{units: make(map[int64]registry.ExecutionUnit)}
}

// Get returns the unit stored for pluginID.
func (p *Pool) Get(pluginID int64) (registry.ExecutionUnit, bool) {
	u, ok := p.units[pluginID]
	return u, ok
}

// Put stores u for pluginID, replacing any previous unit.
func (p *Pool) Put(pluginID int64, u registry.ExecutionUnit) {
	p.units[pluginID] = u
}

// Len returns the number of pooled units.
func (p *Pool) Len() int { return len(p.units) }
