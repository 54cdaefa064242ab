package registry

import (
	"context"
	"sort"
)

// Registry is the authoritative view of plugins and configurations. A value is
// never mutated after it has been published; each cycle builds a new one.
type Registry struct {
	plugins        map[int64]*Plugin
	configurations map[int64]*Configuration
	byTeam         map[int64][]*Configuration
}

// Empty returns a registry without plugins, used at process start.
func Empty() *Registry {
	return &Registry{
		plugins:        map[int64]*Plugin{},
		configurations: map[int64]*Configuration{},
		byTeam:         map[int64][]*Configuration{},
	}
}

// New wraps the given maps. The caller hands over ownership; the maps must not
// be touched afterwards.
func New(plugins map[int64]*Plugin, configurations map[int64]*Configuration, byTeam map[int64][]*Configuration) *Registry {
	r := Empty()
	if plugins != nil {
		r.plugins = plugins
	}
	if configurations != nil {
		r.configurations = configurations
	}
	if byTeam != nil {
		r.byTeam = byTeam
	}
	return r
}

// Plugin returns the plugin revision with the given id.
func (r *Registry) Plugin(id int64) (*Plugin, bool) {
	p, ok := r.plugins[id]
	return p, ok
}

// Configuration returns the configuration with the given id.
func (r *Registry) Configuration(id int64) (*Configuration, bool) {
	c, ok := r.configurations[id]
	return c, ok
}

// TeamConfigurations returns the ordered configuration list of a team. The
// returned slice is a copy.
func (r *Registry) TeamConfigurations(teamID int64) []*Configuration {
	list := r.byTeam[teamID]
	out := make([]*Configuration, len(list))
	copy(out, list)
	return out
}

// Teams returns the ids of teams with at least one configuration, ascending.
func (r *Registry) Teams() []int64 {
	teams := make([]int64, 0, len(r.byTeam))
	for id := range r.byTeam {
		teams = append(teams, id)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i] < teams[j] })
	return teams
}

// Plugins returns every plugin revision ordered by id.
func (r *Registry) Plugins() []*Plugin {
	out := make([]*Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Configurations returns every configuration ordered by id.
func (r *Registry) Configurations() []*Configuration {
	out := make([]*Configuration, 0, len(r.configurations))
	for _, c := range r.configurations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of configurations.
func (r *Registry) Len() int { return len(r.configurations) }

// Units returns the distinct units bound to configurations. Shared units
// appear once.
func (r *Registry) Units() []ExecutionUnit {
	seen := make(map[ExecutionUnit]struct{}, len(r.configurations))
	var units []ExecutionUnit
	for _, c := range r.Configurations() {
		if c.Unit == nil {
			continue
		}
		if _, ok := seen[c.Unit]; ok {
			continue
		}
		seen[c.Unit] = struct{}{}
		units = append(units, c.Unit)
	}
	return units
}

// Close tears down every distinct unit. It is meant for process shutdown.
func (r *Registry) Close(ctx context.Context) {
	for _, u := range r.Units() {
		u.Teardown(ctx)
	}
}
