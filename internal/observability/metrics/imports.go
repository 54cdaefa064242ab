package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// ImportGauge is the sink for plugin import usage indicators.
type ImportGauge interface {
	// Reset drops every indicator.
	Reset()
	// Set records the indicator of one (import, plugin) pair.
	Set(importName string, pluginID int64, value float64)
}

// PrometheusImportGauge writes indicators to a Prometheus gauge vector with
// the labels name and plugin_id.
type PrometheusImportGauge struct {
	vec *prometheus.GaugeVec
}

// NewImportGauge wraps vec. A nil vec selects the plugin_import_used gauge.
func NewImportGauge(vec *prometheus.GaugeVec) *PrometheusImportGauge {
	if vec == nil {
		vec = importUsed
	}
	return &PrometheusImportGauge{vec: vec}
}

// Reset implements ImportGauge.
func (g *PrometheusImportGauge) Reset() { g.vec.Reset() }

// Set implements ImportGauge.
func (g *PrometheusImportGauge) Set(importName string, pluginID int64, value float64) {
	g.vec.With(prometheus.Labels{
		"name":      importName,
		"plugin_id": strconv.FormatInt(pluginID, 10),
	}).Set(value)
}
