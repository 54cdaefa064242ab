package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"PluginHub/internal/auth"
	"PluginHub/internal/reconcile"
	"PluginHub/internal/registry"
	"PluginHub/internal/schedule"
)

type staticUnit struct {
	state   registry.State
	imports []string
}

func (u *staticUnit) Load(context.Context) error { return nil }
func (u *staticUnit) Teardown(context.Context) {}
func (u *staticUnit) UsedImports() []string { return u.imports }
func (u *staticUnit) State() registry.State { return u.state }

type fakeStore struct{ reg *registry.Registry }

func (s *fakeStore) Load() *registry.Registry { return s.reg }

type fakeRunner struct {
	ready    atomic.Bool
	triggers atomic.Int32
	last     *reconcile.Result
}

func (r *fakeRunner) Trigger(string) bool {
	return r.triggers.Add(1) == 1
}
func (r *fakeRunner) Ready() bool { return r.ready.Load() }
func (r *fakeRunner) LastResult() *reconcile.Result { return r.last }

type fakeSchedule struct{ s schedule.Schedule }

func (f *fakeSchedule) Schedule() schedule.Schedule { return f.s }

type fakePublisher struct {
	err   error
	calls atomic.Int32
}

func (p *fakePublisher) Publish(context.Context, string) error {
	p.calls.Add(1)
	return p.err
}

func sampleRegistry() *registry.Registry {
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	shared := &staticUnit{state: registry.StateReady, imports: []string{"log"}}
	plugins := map[int64]*registry.Plugin{
		1: {ID: 1, Name: "heartbeat", IsStateless: true, UpdatedAt: ts},
		2: {ID: 2, Name: "event-logger", UpdatedAt: ts},
	}
	configs := map[int64]*registry.Configuration{
		10: {ID: 10, PluginID: 1, TeamID: 7, Order: 2, UpdatedAt: ts, Enabled: true, Unit: shared},
		11: {ID: 11, PluginID: 2, TeamID: 7, Order: 1, UpdatedAt: ts, Enabled: true, Unit: &staticUnit{state: registry.StateFailed}},
		12: {ID: 12, PluginID: 1, TeamID: 8, Order: 0, UpdatedAt: ts, Enabled: true, Unit: shared,
			Settings: map[string]any{"webhook": "https://hooks.example.com/T0/secret", "label": "ops"}},
	}
	byTeam := map[int64][]*registry.Configuration{
		7: {configs[11], configs[10]},
		8: {configs[12]},
	}
	return registry.New(plugins, configs, byTeam)
}

func newTestServer(runner *fakeRunner, opts ...Option) http.Handler {
	return NewServer(":0", &fakeStore{reg: sampleRegistry()}, runner, opts...).Handler()
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzFollowsRunnerReadiness(t *testing.T) {
	runner := &fakeRunner{}
	h := newTestServer(runner)

	if rec := do(t, h, http.MethodGet, "/healthz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before the first cycle, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/healthz/live"); rec.Code != http.StatusOK {
		t.Fatalf("liveness should pass, got %d", rec.Code)
	}
	runner.ready.Store(true)
	if rec := do(t, h, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once ready, got %d", rec.Code)
	}
}

func TestHealthzIncludesDependencyChecks(t *testing.T) {
	runner := &fakeRunner{}
	runner.ready.Store(true)
	h := newTestServer(runner, WithReadinessCheck("mysql", func() error { return errors.New("down") }))
	if rec := do(t, h, http.MethodGet, "/healthz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("failing dependency should fail readiness, got %d", rec.Code)
	}
}

func TestHealthMetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	runner := &fakeRunner{}
	runner.ready.Store(true)
	h := newTestServer(runner, WithHealthRegisterer(reg))
	do(t, h, http.MethodGet, "/healthz")

	count, err := testutil.GatherAndCount(reg, "pluginhub_healthcheck_status")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count == 0 {
		t.Fatalf("expected healthcheck gauges to be registered")
	}
}

func TestPluginConfigsForTeamAreOrdered(t *testing.T) {
	rec := do(t, newTestServer(&fakeRunner{}), http.MethodGet, "/api/v1/plugin-configs?team_id=7")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var got []configView
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	ids := make([]int64, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	if diff := cmp.Diff([]int64{11, 10}, ids); diff != "" {
		t.Fatalf("team order mismatch (-want +got):\n%s", diff)
	}
	if got[0].State != registry.StateFailed || got[1].State != registry.StateReady {
		t.Fatalf("unexpected states: %+v", got)
	}
	if diff := cmp.Diff([]string{"log"}, got[1].UsedImports); diff != "" {
		t.Fatalf("imports mismatch (-want +got):\n%s", diff)
	}
}

func TestPluginConfigsHideSettingValues(t *testing.T) {
	h := newTestServer(&fakeRunner{})
	rec := do(t, h, http.MethodGet, "/api/v1/plugin-configs?team_id=8")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("setting value leaked: %s", rec.Body.String())
	}
	var got []configView
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one configuration, got %d", len(got))
	}
	if diff := cmp.Diff([]string{"label", "webhook"}, got[0].SettingKeys); diff != "" {
		t.Fatalf("setting keys (-want +got):\n%s", diff)
	}
}

func TestPluginConfigsRejectsBadTeam(t *testing.T) {
	rec := do(t, newTestServer(&fakeRunner{}), http.MethodGet, "/api/v1/plugin-configs?team_id=abc")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPluginsCountConfigurations(t *testing.T) {
	rec := do(t, newTestServer(&fakeRunner{}), http.MethodGet, "/api/v1/plugins")
	var got []pluginView
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].ID != 1 || got[0].Configurations != 2 || got[1].Configurations != 1 {
		t.Fatalf("unexpected plugins: %+v", got)
	}
}

func TestScheduleEndpoint(t *testing.T) {
	sched := schedule.Schedule{"runEveryMinute": {10, 12}}
	rec := do(t, newTestServer(&fakeRunner{}, WithSchedule(&fakeSchedule{s: sched})), http.MethodGet, "/api/v1/schedule")
	var got schedule.Schedule
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(sched, got); diff != "" {
		t.Fatalf("schedule mismatch (-want +got):\n%s", diff)
	}
}

func TestReloadTriggersRunner(t *testing.T) {
	runner := &fakeRunner{}
	h := newTestServer(runner)

	if rec := do(t, h, http.MethodGet, "/api/v1/reload"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/v1/reload")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if runner.triggers.Load() != 1 {
		t.Fatalf("expected one trigger, got %d", runner.triggers.Load())
	}
}

func TestReloadBroadcastsWhenPublisherSet(t *testing.T) {
	runner := &fakeRunner{}
	pub := &fakePublisher{}
	h := newTestServer(runner, WithReloadPublisher(pub))
	do(t, h, http.MethodPost, "/api/v1/reload")
	if pub.calls.Load() != 1 || runner.triggers.Load() != 0 {
		t.Fatalf("expected broadcast only, publish=%d trigger=%d", pub.calls.Load(), runner.triggers.Load())
	}

	pub.err = errors.New("redis down")
	do(t, h, http.MethodPost, "/api/v1/reload")
	if runner.triggers.Load() != 1 {
		t.Fatalf("failed broadcast should fall back to a local trigger")
	}
}

func TestStatusReportsLastCycle(t *testing.T) {
	runner := &fakeRunner{last: &reconcile.Result{CycleID: "c-1", Loaded: 2, Shared: 1, Errors: []error{errors.New("boom")}}}
	runner.ready.Store(true)
	rec := do(t, newTestServer(runner), http.MethodGet, "/api/v1/status")
	var got statusView
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := statusView{Ready: true, Plugins: 2, Configurations: 3, CycleID: "c-1", Loaded: 2, Shared: 1, Errors: []string{"boom"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestRouteLabelBounded(t *testing.T) {
	if routeLabel("/api/v1/plugins") != "/api/v1/plugins" || routeLabel("/random/123") != "other" {
		t.Fatalf("unexpected route labels")
	}
}

func TestAuthGuardsAPIRoutesOnly(t *testing.T) {
	svc, err := auth.NewService(auth.Config{
		Mode:   auth.ModeToken,
		Tokens: []auth.TokenConfig{{Name: "dashboard", Token: "t1", Permissions: []string{auth.PermissionRead}}},
	})
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	runner := &fakeRunner{}
	runner.ready.Store(true)
	h := newTestServer(runner, WithAuth(svc.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet:  {auth.PermissionRead},
			http.MethodPost: {auth.PermissionReload},
		},
	})))

	if rec := do(t, h, http.MethodGet, "/api/v1/plugins"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("health endpoints must stay open, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plugins", nil)
	req.Header.Set("Authorization", "Bearer t1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/reload", nil)
	req.Header.Set("Authorization", "Bearer t1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden || runner.triggers.Load() != 0 {
		t.Fatalf("read token must not reload: status %d, triggers %d", rec.Code, runner.triggers.Load())
	}
}
