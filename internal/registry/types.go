// Package registry holds the data model of the reconciliation service: plugin
// revisions, tenant configurations, the immutable Registry value published at
// the end of every cycle and the Store readers load it from.
package registry

import (
	"context"
	"time"
)

// State is the lifecycle position of an ExecutionUnit.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateReady         State = "ready"
	StateFailed        State = "failed"
)

// ExecutionUnit is one running plugin instance. A unit is exclusively owned by
// one configuration for stateful plugins, or shared by every configuration of
// a stateless plugin.
type ExecutionUnit interface {
	// Load initialises the unit. It is idempotent: a Ready unit returns nil and
	// a Failed unit returns its original error without retrying.
	Load(ctx context.Context) error
	// Teardown releases the unit. It never fails past its own boundary.
	Teardown(ctx context.Context)
	// UsedImports lists the imports touched during initialisation, or nil
	// before the unit is Ready.
	UsedImports() []string
	State() State
}

// TaskUnit is implemented by units that can run scheduled plugin tasks.
type TaskUnit interface {
	ExecutionUnit
	// ScheduledTasks lists the scheduled tasks the loaded code exports, or nil
	// before the unit is Ready.
	ScheduledTasks() []string
	RunTask(ctx context.Context, task string) error
}

// Plugin is one revision of plugin code. A new revision has the same ID and a
// later UpdatedAt.
type Plugin struct {
	ID              int64     `json:"id" yaml:"id"`
	Name            string    `json:"name" yaml:"name"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"updatedAt"`
	IsStateless     bool      `json:"is_stateless" yaml:"isStateless"`
	DeclaredImports []string  `json:"declared_imports,omitempty" yaml:"declaredImports"`
}

// Configuration is a tenant's attachment of a plugin.
type Configuration struct {
	ID        int64          `json:"id" yaml:"id"`
	PluginID  int64          `json:"plugin_id" yaml:"pluginId"`
	TeamID    int64          `json:"team_id" yaml:"teamId"`
	Order     int            `json:"order" yaml:"order"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"updatedAt"`
	Enabled   bool           `json:"enabled" yaml:"enabled"`
	Settings  map[string]any `json:"settings,omitempty" yaml:"settings"`

	// Unit is bound by the reconciliation engine. It is a reference: for
	// stateless plugins many configurations point at the same unit.
	Unit ExecutionUnit `json:"-" yaml:"-"`
}

// Clone returns a copy of the configuration without its unit binding.
func (c *Configuration) Clone() *Configuration {
	if c == nil {
		return nil
	}
	dup := *c
	dup.Unit = nil
	if c.Settings != nil {
		dup.Settings = make(map[string]any, len(c.Settings))
		for k, v := range c.Settings {
			dup.Settings[k] = v
		}
	}
	return &dup
}

// Capabilities are process-level switches consulted once per cycle.
type Capabilities struct {
	// ScheduledTasks makes the cycle hand the registry to the task scheduler.
	ScheduledTasks bool `yaml:"scheduledTasks"`
	// LoadSequentially forces unit loads to run one after another.
	LoadSequentially bool `yaml:"loadSequentially"`
}
