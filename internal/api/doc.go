// Package api exposes the published registry over HTTP: health checks,
// read-only introspection of plugins, configurations and the task schedule,
// a manual reload endpoint and the Prometheus scrape endpoint.
package api
