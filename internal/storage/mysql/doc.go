// Package mysql reads plugin snapshots from the posthog_plugin and
// posthog_pluginconfig tables. It owns the connection pool settings and the
// embedded schema migrations.
package mysql
