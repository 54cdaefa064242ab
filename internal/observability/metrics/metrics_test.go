package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestImportGaugeResetAndSet(t *testing.T) {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_import_used"}, []string{"name", "plugin_id"})
	gauge := NewImportGauge(vec)

	gauge.Set("node-fetch", 7, 1)
	gauge.Set("crypto", 7, 1)
	if got := testutil.CollectAndCount(vec); got != 2 {
		t.Fatalf("expected 2 series, got %d", got)
	}
	if got := testutil.ToFloat64(vec.WithLabelValues("crypto", "7")); got != 1 {
		t.Fatalf("unexpected value %v", got)
	}

	gauge.Reset()
	if got := testutil.CollectAndCount(vec); got != 0 {
		t.Fatalf("expected reset to drop every series, got %d", got)
	}
}

func TestHandlerServesRegisteredCollectors(t *testing.T) {
	Register()
	Register()
	ObserveCycle("success", 120*time.Millisecond)
	ObserveHTTPRequest("/healthz", http.MethodGet, http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"pluginhub_reconcile_cycles_total", "pluginhub_http_requests_total"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}
