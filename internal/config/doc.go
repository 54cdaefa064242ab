// Package config loads the pluginhubd YAML configuration and fills in
// defaults for every section left empty.
package config
