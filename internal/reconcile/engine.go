// Package reconcile implements the reconciliation cycle: it diffs a freshly
// read snapshot against the published registry, loads new units, publishes
// the next registry atomically and tears superseded units down in the
// background.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/multierr"

	xerrors "PluginHub/internal/errors"
	"PluginHub/internal/observability/alerting"
	"PluginHub/internal/observability/metrics"
	"PluginHub/internal/registry"
	"PluginHub/internal/unit"
	"PluginHub/pkg/logger"
)

// SnapshotSource reads a full, consistent snapshot of plugin records.
type SnapshotSource interface {
	LoadSnapshot(ctx context.Context) (*registry.Snapshot, error)
}

// ScheduleHandoff receives every published registry when the process runs
// scheduled tasks.
type ScheduleHandoff interface {
	BuildSchedule(ctx context.Context, reg *registry.Registry) error
}

// Result summarises one cycle.
type Result struct {
	CycleID  string
	Registry *registry.Registry
	// Loaded counts units created and loaded this cycle, failures included.
	Loaded int
	// Reused counts configurations that kept their previous unit.
	Reused int
	// Shared counts configurations bound to a pooled stateless unit without
	// a load of their own.
	Shared   int
	TornDown int
	Errors   []error
	Duration time.Duration
}

// Err combines the per-unit errors of the cycle.
func (r *Result) Err() error {
	if r == nil {
		return nil
	}
	return multierr.Combine(r.Errors...)
}

// Engine runs reconciliation cycles against a registry.Store. Cycles are
// serialized.
type Engine struct {
	store   *registry.Store
	source  SnapshotSource
	host    *unit.Host
	factory unit.Factory

	log             *slog.Logger
	gauge           metrics.ImportGauge
	handoff         ScheduleHandoff
	alerter         alerting.Dispatcher
	loadConcurrency int
	teardownWorkers int
	teardownTimeout time.Duration
	newBackOff      func() backoff.BackOff

	loadPool  *ants.Pool
	teardowns *TeardownQueue

	mu sync.Mutex
}

// NewEngine wires an engine. source may be nil when only Reconcile is used.
func NewEngine(store *registry.Store, source SnapshotSource, host *unit.Host, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "registry store is required")
	}
	if host == nil {
		host = &unit.Host{}
	}
	e := &Engine{
		store:           store,
		source:          source,
		host:            host,
		factory:         unit.NewFactory(),
		log:             logger.Named("reconcile"),
		teardownWorkers: 4,
		teardownTimeout: time.Minute,
		newBackOff:      defaultBackOff,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	pool, err := ants.NewPool(e.loadConcurrency, ants.WithPanicHandler(func(p any) {
		e.log.Error("unit load panicked", slog.Any("panic", p))
	}))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "create load pool")
	}
	e.loadPool = pool

	queue, err := NewTeardownQueue(e.teardownWorkers, e.teardownTimeout, e.log)
	if err != nil {
		pool.Release()
		return nil, err
	}
	e.teardowns = queue
	return e, nil
}

// Store returns the registry store the engine publishes to.
func (e *Engine) Store() *registry.Store { return e.store }

// Teardowns returns the background teardown queue.
func (e *Engine) Teardowns() *TeardownQueue { return e.teardowns }

// Cycle reads a snapshot and reconciles it. A snapshot read failure aborts the
// cycle with SNAPSHOT_UNAVAILABLE and leaves the published registry in place.
func (e *Engine) Cycle(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cycleID := uuid.NewString()
	started := time.Now()
	log := e.log.With(slog.String("cycle_id", cycleID))

	if e.source == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "no snapshot source configured")
	}
	snap, err := e.readSnapshot(ctx, log)
	if err != nil {
		err = xerrors.Wrap(xerrors.CodeSnapshotUnavailable, err, "read plugin snapshot",
			xerrors.WithMetadata("cycle_id", cycleID))
		metrics.ObserveCycle("snapshot_unavailable", time.Since(started))
		log.Error("reconcile cycle aborted", slog.Any("error", err))
		e.alert(ctx, cycleID, err)
		return nil, err
	}
	return e.reconcile(ctx, cycleID, started, snap), nil
}

// Reconcile applies snap to the published registry and returns the registry
// it published together with the per-unit load errors. An invalid snapshot
// leaves the published registry untouched.
func (e *Engine) Reconcile(ctx context.Context, snap *registry.Snapshot) (*registry.Registry, []error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := snap.Validate(); err != nil {
		return e.store.Load(), []error{xerrors.Wrap(xerrors.CodeSnapshotUnavailable, err, "invalid snapshot")}
	}
	res := e.reconcile(ctx, uuid.NewString(), time.Now(), snap)
	return res.Registry, res.Errors
}

func (e *Engine) readSnapshot(ctx context.Context, log *slog.Logger) (*registry.Snapshot, error) {
	var snap *registry.Snapshot
	op := func() error {
		s, err := e.source.LoadSnapshot(ctx)
		if err != nil {
			if coded, ok := xerrors.From(err); ok && !coded.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := s.Validate(); err != nil {
			return backoff.Permanent(err)
		}
		snap = s
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("snapshot read failed, retrying", slog.Any("error", err), slog.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(e.newBackOff(), ctx), notify); err != nil {
		return nil, err
	}
	return snap, nil
}

// reconcile runs one cycle. The caller holds e.mu.
func (e *Engine) reconcile(ctx context.Context, cycleID string, started time.Time, snap *registry.Snapshot) *Result {
	log := e.log.With(slog.String("cycle_id", cycleID))
	current := e.store.Load()
	caps := e.store.Capabilities()
	res := &Result{CycleID: cycleID}

	pool := unit.NewPool()
	var superseded []registry.ExecutionUnit

	ids := snap.ConfigurationIDs()
	configurations := make(map[int64]*registry.Configuration, len(ids))
	for _, id := range ids {
		cfg := snap.Configurations[id].Clone()
		p := snap.Plugins[cfg.PluginID]
		prev, _ := current.Configuration(id)

		if prev != nil && prev.Unit != nil && !configChanged(cfg, prev) && !pluginChanged(current, p) {
			cfg.Unit = prev.Unit
			res.Reused++
			configurations[id] = cfg
			continue
		}
		if shared, ok := pool.Get(p.ID); p.IsStateless && ok {
			cfg.Unit = shared
			res.Shared++
			configurations[id] = cfg
			continue
		}
		cfg.Unit = e.factory(e.host, cfg, p)
		if p.IsStateless {
			pool.Put(p.ID, cfg.Unit)
		}
		if prev != nil && prev.Unit != nil {
			superseded = append(superseded, prev.Unit)
		}
		configurations[id] = cfg
	}

	pending := pendingUnits(configurations, ids)
	res.Loaded = len(pending)
	res.Errors = e.loadUnits(ctx, pending, caps.LoadSequentially)

	byTeam := make(map[int64][]*registry.Configuration, len(snap.ByTeam))
	for team, list := range snap.ByTeam {
		bound := make([]*registry.Configuration, 0, len(list))
		for _, c := range list {
			bound = append(bound, configurations[c.ID])
		}
		byTeam[team] = bound
	}
	registry.SortTeamLists(byTeam)
	plugins := make(map[int64]*registry.Plugin, len(snap.Plugins))
	for id, p := range snap.Plugins {
		plugins[id] = p
	}
	next := registry.New(plugins, configurations, byTeam)
	prevRegistry := e.store.Publish(next)
	res.Registry = next
	res.TornDown = e.retire(prevRegistry, next, superseded)

	e.reportImports(next)
	reportStates(next)

	if caps.ScheduledTasks && e.handoff != nil {
		if err := e.handoff.BuildSchedule(ctx, next); err != nil {
			log.Warn("schedule hand-off failed", slog.Any("error", err))
		}
	}

	res.Duration = time.Since(started)
	outcome := "success"
	if len(res.Errors) > 0 {
		outcome = "partial"
		for _, err := range res.Errors {
			e.alert(ctx, cycleID, err)
		}
	}
	metrics.ObserveCycle(outcome, res.Duration)
	logger.Audit().Info("reconcile cycle completed",
		slog.String("cycle_id", cycleID),
		slog.String("outcome", outcome),
		slog.Int("configurations", next.Len()),
		slog.Int("loaded", res.Loaded),
		slog.Int("reused", res.Reused),
		slog.Int("shared", res.Shared),
		slog.Int("torn_down", res.TornDown),
		slog.Int("failed", len(res.Errors)),
		slog.Duration("elapsed", res.Duration),
	)
	return res
}

func configChanged(cfg, prev *registry.Configuration) bool {
	return prev == nil || !cfg.UpdatedAt.Equal(prev.UpdatedAt)
}

func pluginChanged(current *registry.Registry, p *registry.Plugin) bool {
	prev, ok := current.Plugin(p.ID)
	return !ok || !p.UpdatedAt.Equal(prev.UpdatedAt)
}

// pendingUnits returns the distinct units still Uninitialized, in
// configuration id order.
func pendingUnits(configurations map[int64]*registry.Configuration, ids []int64) []registry.ExecutionUnit {
	seen := make(map[registry.ExecutionUnit]struct{})
	var out []registry.ExecutionUnit
	for _, id := range ids {
		u := configurations[id].Unit
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		if u.State() == registry.StateUninitialized {
			out = append(out, u)
		}
	}
	return out
}

// loadUnits loads every unit, one after another or all at once on the load
// pool, and waits for all of them.
func (e *Engine) loadUnits(ctx context.Context, units []registry.ExecutionUnit, sequential bool) []error {
	results := make([]error, len(units))
	if sequential {
		for i, u := range units {
			results[i] = safeLoad(ctx, u)
		}
		return compact(results)
	}

	var wg sync.WaitGroup
	for i, u := range units {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i] = safeLoad(ctx, u)
		}
		if err := e.loadPool.Submit(task); err != nil {
			e.log.Warn("load pool rejected task, loading inline", slog.Any("error", err))
			task()
		}
	}
	wg.Wait()
	return compact(results)
}

func safeLoad(ctx context.Context, u registry.ExecutionUnit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(xerrors.CodeUnitLoadFailed, fmt.Sprintf("unit load panicked: %v", r))
		}
	}()
	return u.Load(ctx)
}

func compact(errs []error) []error {
	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// retire submits the units superseded this cycle, followed by every other
// unit of prev that next no longer references, to the teardown queue. Each
// unit is torn down once even when several configurations shared it.
func (e *Engine) retire(prev, next *registry.Registry, superseded []registry.ExecutionUnit) int {
	done := make(map[registry.ExecutionUnit]struct{})
	n := 0
	submit := func(u registry.ExecutionUnit) {
		if _, ok := done[u]; ok {
			return
		}
		done[u] = struct{}{}
		e.teardowns.Submit(u)
		n++
	}
	for _, u := range superseded {
		submit(u)
	}
	if prev == nil {
		return n
	}
	keep := make(map[registry.ExecutionUnit]struct{})
	for _, u := range next.Units() {
		keep[u] = struct{}{}
	}
	for _, u := range prev.Units() {
		if _, ok := keep[u]; !ok {
			submit(u)
		}
	}
	return n
}

func reportStates(reg *registry.Registry) {
	counts := map[string]int{}
	for _, cfg := range reg.Configurations() {
		counts[string(cfg.Unit.State())]++
	}
	metrics.SetConfigurationStates(counts)
}

func (e *Engine) alert(ctx context.Context, cycleID string, err error) {
	if e.alerter == nil || !xerrors.ShouldAlert(err) {
		return
	}
	ev := alerting.EventFromError(err)
	ev.CycleID = cycleID
	if nerr := e.alerter.Notify(ctx, ev); nerr != nil {
		e.log.Warn("alert delivery failed", slog.Any("error", nerr), slog.String("cycle_id", cycleID))
	}
}

// Close waits for queued teardowns and releases the worker pools. It does not
// tear down the published registry.
func (e *Engine) Close(ctx context.Context) error {
	err := e.teardowns.Close(ctx)
	e.loadPool.Release()
	return err
}
