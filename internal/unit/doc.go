// Package unit implements registry.ExecutionUnit on top of the pkg/plugin
// sandbox contract. Units are created Uninitialized by the reconciliation
// engine and load lazily; a stateless plugin's unit is shared through Pool.
package unit
