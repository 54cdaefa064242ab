package registry

import (
	"fmt"
	"sort"
)

// Snapshot is a point-in-time read of plugin and configuration records.
type Snapshot struct {
	Plugins        map[int64]*Plugin
	Configurations map[int64]*Configuration
	ByTeam         map[int64][]*Configuration
}

// NewSnapshot indexes plugins and configurations. Disabled configurations and
// configurations whose plugin is missing are dropped; the second return value
// lists the ids of the latter.
func NewSnapshot(plugins []*Plugin, configs []*Configuration) (*Snapshot, []int64) {
	s := &Snapshot{
		Plugins:        make(map[int64]*Plugin, len(plugins)),
		Configurations: make(map[int64]*Configuration, len(configs)),
		ByTeam:         make(map[int64][]*Configuration),
	}
	for _, p := range plugins {
		if p != nil {
			s.Plugins[p.ID] = p
		}
	}
	var orphans []int64
	for _, c := range configs {
		if c == nil || !c.Enabled {
			continue
		}
		if _, ok := s.Plugins[c.PluginID]; !ok {
			orphans = append(orphans, c.ID)
			continue
		}
		s.Configurations[c.ID] = c
		s.ByTeam[c.TeamID] = append(s.ByTeam[c.TeamID], c)
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i] < orphans[j] })
	return s, orphans
}

// ConfigurationIDs returns the configuration ids in ascending order.
func (s *Snapshot) ConfigurationIDs() []int64 {
	ids := make([]int64, 0, len(s.Configurations))
	for id := range s.Configurations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Validate checks that every configuration references a known plugin and is
// listed exactly once, under its own team.
func (s *Snapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("snapshot is nil")
	}
	for id, c := range s.Configurations {
		if c == nil || c.ID != id {
			return fmt.Errorf("configuration %d indexed under wrong id", id)
		}
		if _, ok := s.Plugins[c.PluginID]; !ok {
			return fmt.Errorf("configuration %d references unknown plugin %d", id, c.PluginID)
		}
	}
	listed := make(map[int64]struct{}, len(s.Configurations))
	for team, list := range s.ByTeam {
		for _, c := range list {
			if c == nil || s.Configurations[c.ID] != c {
				return fmt.Errorf("team %d lists a configuration missing from the index", team)
			}
			if c.TeamID != team {
				return fmt.Errorf("configuration %d of team %d listed under team %d", c.ID, c.TeamID, team)
			}
			if _, dup := listed[c.ID]; dup {
				return fmt.Errorf("configuration %d listed twice", c.ID)
			}
			listed[c.ID] = struct{}{}
		}
	}
	if len(listed) != len(s.Configurations) {
		return fmt.Errorf("%d configurations missing from team lists", len(s.Configurations)-len(listed))
	}
	return nil
}
