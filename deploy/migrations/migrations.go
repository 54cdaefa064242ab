// Package migrations embeds the MySQL schema of the plugin tables.
package migrations

import "embed"

// Files exposes every SQL migration file.
//
//go:embed *.sql
var Files embed.FS
