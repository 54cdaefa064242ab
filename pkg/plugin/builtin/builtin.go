// Package builtin ships plugins compiled into the host binary. They are
// registered in the default catalog and double as fixtures for local runs.
package builtin

import (
	"PluginHub/pkg/plugin"
)

const (
	NameEventLogger = "event-logger"
	NameHeartbeat   = "heartbeat"
)

// Register adds every builtin plugin to catalog.
func Register(catalog *plugin.Catalog) error {
	if err := catalog.Register(NameEventLogger, NewEventLogger); err != nil {
		return err
	}
	return catalog.Register(NameHeartbeat, NewHeartbeat)
}
