package registry

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type countingUnit struct {
	teardowns int
}

func (u *countingUnit) Load(context.Context) error { return nil }
func (u *countingUnit) Teardown(context.Context) { u.teardowns++ }
func (u *countingUnit) UsedImports() []string { return nil }
func (u *countingUnit) State() State { return StateReady }

func orders(list []*Configuration) []int {
	out := make([]int, 0, len(list))
	for _, c := range list {
		out = append(out, c.Order)
	}
	return out
}

func ids(list []*Configuration) []int64 {
	out := make([]int64, 0, len(list))
	for _, c := range list {
		out = append(out, c.ID)
	}
	return out
}

func TestSortTeamLists(t *testing.T) {
	tests := []struct {
		name    string
		input   []*Configuration
		wantIDs []int64
	}{
		{
			name:    "unordered input",
			input:   []*Configuration{{ID: 1, Order: 3}, {ID: 2, Order: 1}, {ID: 3, Order: 2}},
			wantIDs: []int64{2, 3, 1},
		},
		{
			name:    "equal order keeps input order",
			input:   []*Configuration{{ID: 9, Order: 1}, {ID: 4, Order: 0}, {ID: 5, Order: 1}},
			wantIDs: []int64{4, 9, 5},
		},
		{
			name:    "already sorted",
			input:   []*Configuration{{ID: 1, Order: 1}, {ID: 2, Order: 2}},
			wantIDs: []int64{1, 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			byTeam := map[int64][]*Configuration{7: tt.input}
			SortTeamLists(byTeam)
			if diff := cmp.Diff(tt.wantIDs, ids(byTeam[7])); diff != "" {
				t.Errorf("Unexpected order (-want +got): %s", diff)
			}
		})
	}
}

func TestNewSnapshotFiltersRecords(t *testing.T) {
	now := time.Unix(1700000000, 0)
	plugins := []*Plugin{{ID: 1, Name: "a", UpdatedAt: now}}
	configs := []*Configuration{
		{ID: 10, PluginID: 1, TeamID: 2, Order: 2, Enabled: true},
		{ID: 11, PluginID: 1, TeamID: 2, Order: 1, Enabled: false},
		{ID: 12, PluginID: 99, TeamID: 2, Order: 1, Enabled: true},
		{ID: 13, PluginID: 1, TeamID: 3, Order: 1, Enabled: true},
	}

	snap, orphans := NewSnapshot(plugins, configs)
	if diff := cmp.Diff([]int64{12}, orphans); diff != "" {
		t.Errorf("Unexpected orphans (-want +got): %s", diff)
	}
	if diff := cmp.Diff([]int64{10, 13}, snap.ConfigurationIDs()); diff != "" {
		t.Errorf("Unexpected configuration ids (-want +got): %s", diff)
	}
	if len(snap.ByTeam[2]) != 1 || len(snap.ByTeam[3]) != 1 {
		t.Fatalf("unexpected team lists: %+v", snap.ByTeam)
	}
	if err := snap.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestSnapshotValidateTeamLists(t *testing.T) {
	plugins := []*Plugin{{ID: 1, Name: "a"}}
	build := func() *Snapshot {
		snap, _ := NewSnapshot(plugins, []*Configuration{
			{ID: 10, PluginID: 1, TeamID: 2, Enabled: true},
			{ID: 11, PluginID: 1, TeamID: 3, Enabled: true},
		})
		return snap
	}

	tests := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{
			name:   "configuration missing from its team list",
			mutate: func(s *Snapshot) { delete(s.ByTeam, 3) },
		},
		{
			name:   "configuration listed under another team",
			mutate: func(s *Snapshot) { s.ByTeam[2] = append(s.ByTeam[2], s.Configurations[11]); delete(s.ByTeam, 3) },
		},
		{
			name:   "configuration listed twice",
			mutate: func(s *Snapshot) { s.ByTeam[2] = append(s.ByTeam[2], s.Configurations[10]) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := build()
			if err := snap.Validate(); err != nil {
				t.Fatalf("untouched snapshot invalid: %v", err)
			}
			tt.mutate(snap)
			if err := snap.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestRegistryUnitsAreDistinct(t *testing.T) {
	shared := &countingUnit{}
	own := &countingUnit{}
	configs := map[int64]*Configuration{
		1: {ID: 1, TeamID: 1, Unit: shared},
		2: {ID: 2, TeamID: 2, Unit: shared},
		3: {ID: 3, TeamID: 2, Unit: own},
		4: {ID: 4, TeamID: 3},
	}
	reg := New(nil, configs, nil)
	if got := len(reg.Units()); got != 2 {
		t.Fatalf("expected 2 distinct units, got %d", got)
	}

	reg.Close(context.Background())
	if shared.teardowns != 1 || own.teardowns != 1 {
		t.Fatalf("expected one teardown each, got shared=%d own=%d", shared.teardowns, own.teardowns)
	}
}

func TestStorePublishAndClose(t *testing.T) {
	store := NewStore(Capabilities{ScheduledTasks: true})
	if store.Load().Len() != 0 {
		t.Fatalf("new store should publish an empty registry")
	}
	if !store.Capabilities().ScheduledTasks {
		t.Fatalf("capabilities not kept")
	}

	unit := &countingUnit{}
	next := New(nil, map[int64]*Configuration{1: {ID: 1, Unit: unit}}, map[int64][]*Configuration{})
	prev := store.Publish(next)
	if prev.Len() != 0 || store.Load() != next {
		t.Fatalf("publish did not swap registries")
	}

	store.Close(context.Background())
	if unit.teardowns != 1 {
		t.Fatalf("expected unit torn down on close, got %d", unit.teardowns)
	}
	if store.Load().Len() != 0 {
		t.Fatalf("store should be empty after close")
	}
}

func TestTeamConfigurationsReturnsCopy(t *testing.T) {
	list := []*Configuration{{ID: 1, Order: 1}, {ID: 2, Order: 2}}
	reg := New(nil, nil, map[int64][]*Configuration{5: list})
	got := reg.TeamConfigurations(5)
	got[0] = nil
	if reg.TeamConfigurations(5)[0] == nil {
		t.Fatalf("caller mutation leaked into registry")
	}
	if diff := cmp.Diff([]int{1, 2}, orders(reg.TeamConfigurations(5))); diff != "" {
		t.Errorf("Unexpected orders (-want +got): %s", diff)
	}
	if diff := cmp.Diff([]int64{5}, reg.Teams()); diff != "" {
		t.Errorf("Unexpected teams (-want +got): %s", diff)
	}
}
