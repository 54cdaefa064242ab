package unit

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"

	xerrors "PluginHub/internal/errors"
	"PluginHub/internal/observability/metrics"
	"PluginHub/internal/registry"
	"PluginHub/pkg/plugin"
)

const (
	// CodeUnitNotReady is returned when a task is run on a unit that is not
	// Ready.
	CodeUnitNotReady xerrors.Code = "UNIT_NOT_READY"
	// CodeTaskFailed wraps errors returned or panics raised by plugin tasks.
	CodeTaskFailed xerrors.Code = "UNIT_TASK_FAILED"
)

func init() {
	xerrors.Register(CodeUnitNotReady, xerrors.Attributes{
		Message:  "plugin unit is not ready",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskFailed, xerrors.Attributes{
		Message:   "plugin task failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// LazyUnit is created Uninitialized and resolves, validates and sets up its
// plugin code on the first Load call.
type LazyUnit struct {
	host   *Host
	config *registry.Configuration
	plugin registry.Plugin
	log    *slog.Logger

	mu       sync.Mutex
	state    registry.State
	done     chan struct{}
	err      error
	loaded   *loaded
	tornDown bool
}

type loaded struct {
	impl    plugin.Plugin
	info    plugin.Info
	exec    *plugin.ExecutionContext
	imports []string
	tasks   []string
}

var _ registry.TaskUnit = (*LazyUnit)(nil)

// NewLazy returns an Uninitialized unit for cfg running plugin p.
func NewLazy(host *Host, cfg *registry.Configuration, p *registry.Plugin) *LazyUnit {
	if host == nil {
		host = &Host{}
	}
	u := &LazyUnit{
		host:   host,
		config: cfg.Clone(),
		plugin: *p,
		state:  registry.StateUninitialized,
	}
	u.log = host.logger().With(
		slog.Int64("plugin_id", p.ID),
		slog.String("plugin", p.Name),
		slog.Int64("plugin_config_id", cfg.ID),
	)
	return u
}

// State implements registry.ExecutionUnit.
func (u *LazyUnit) State() registry.State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Err returns the load error of a Failed unit.
func (u *LazyUnit) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

// Load implements registry.ExecutionUnit. Concurrent callers share a single
// in-flight load; a Failed unit keeps returning its original error.
func (u *LazyUnit) Load(ctx context.Context) error {
	u.mu.Lock()
	switch u.state {
	case registry.StateReady:
		u.mu.Unlock()
		return nil
	case registry.StateFailed:
		err := u.err
		u.mu.Unlock()
		return err
	case registry.StateLoading:
		done := u.done
		u.mu.Unlock()
		select {
		case <-done:
			return u.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if u.tornDown {
		u.mu.Unlock()
		return xerrors.New(xerrors.CodeUnitLoadFailed, "unit was torn down before loading", u.meta()...)
	}
	u.state = registry.StateLoading
	u.done = make(chan struct{})
	u.mu.Unlock()

	started := time.Now()
	l, err := u.initialize(ctx)
	if err != nil {
		err = xerrors.Wrap(xerrors.CodeUnitLoadFailed, err, "load plugin "+u.plugin.Name, u.meta()...)
	}

	u.mu.Lock()
	if err != nil {
		u.state = registry.StateFailed
		u.err = err
	} else {
		u.state = registry.StateReady
		u.loaded = l
	}
	close(u.done)
	u.mu.Unlock()

	if err != nil {
		metrics.ObserveUnitLoad("failure")
		u.log.Warn("plugin unit failed to load", slog.Any("error", err), slog.Duration("elapsed", time.Since(started)))
		return err
	}
	metrics.ObserveUnitLoad("success")
	u.log.Info("plugin unit ready", slog.Duration("elapsed", time.Since(started)), slog.Int("imports", len(l.imports)))
	return nil
}

func (u *LazyUnit) initialize(ctx context.Context) (*loaded, error) {
	sandbox := u.host.Sandbox
	policy := sandbox.PolicyFor(u.plugin.Name)
	if err := plugin.EnsurePolicy(u.plugin.DeclaredImports, policy, sandbox.Strict); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeImportDenied, err, "sandbox policy missing")
	}
	isolation := u.host.isolation()
	if err := isolation.Validate(u.plugin.Name, u.plugin.DeclaredImports, policy); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeImportDenied, err, "declared imports rejected")
	}
	if u.host.Loader == nil {
		return nil, fmt.Errorf("no plugin loader configured")
	}

	impl, err := u.host.Loader.Load(ctx, plugin.Source{
		PluginID: u.plugin.ID,
		Name:     u.plugin.Name,
		Path:     sandbox.PathFor(u.plugin.Name),
	})
	if err != nil {
		return nil, fmt.Errorf("resolve plugin code: %w", err)
	}
	info := impl.Info()
	if err := isolation.Validate(u.plugin.Name, info.Imports, policy); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeImportDenied, err, "plugin imports rejected")
	}
	if err := isolation.Prepare(info); err != nil {
		return nil, fmt.Errorf("prepare isolation: %w", err)
	}

	exec := &plugin.ExecutionContext{
		C:              ctx,
		PluginConfigID: u.config.ID,
		TeamID:         u.config.TeamID,
		Config:         u.config.Settings,
		Resources:      u.host.Resources,
		Logger:         u.log,
	}
	if err := u.setup(ctx, impl, exec); err != nil {
		_ = isolation.Cleanup(info)
		return nil, err
	}

	l := &loaded{impl: impl, info: info, exec: exec.Clone()}
	if reporter, ok := impl.(plugin.ImportReporter); ok {
		l.imports = append([]string{}, reporter.UsedImports()...)
		sort.Strings(l.imports)
	}
	if runner, ok := impl.(plugin.TaskRunner); ok {
		for _, task := range runner.Tasks() {
			name := string(task)
			if plugin.IsScheduledTask(name) && !slices.Contains(l.tasks, name) {
				l.tasks = append(l.tasks, name)
			}
		}
	}
	return l, nil
}

// setup runs the plugin's Setup hook, bounded by the sandbox load timeout
// when one is configured.
func (u *LazyUnit) setup(ctx context.Context, impl plugin.Plugin, exec *plugin.ExecutionContext) error {
	timeout := u.host.Sandbox.LoadTimeout
	if timeout <= 0 {
		if err := safeCall(func() error { return impl.Setup(exec.WithContext(ctx)) }); err != nil {
			return fmt.Errorf("plugin setup: %w", err)
		}
		return nil
	}

	setupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- safeCall(func() error { return impl.Setup(exec.WithContext(setupCtx)) })
	}()
	select {
	case err := <-errCh:
		if err != nil && setupCtx.Err() != nil {
			return xerrors.Wrap(xerrors.CodeTimeout, err, fmt.Sprintf("plugin setup exceeded %s", timeout))
		}
		if err != nil {
			return fmt.Errorf("plugin setup: %w", err)
		}
		return nil
	case <-setupCtx.Done():
		// Setup may still complete; release whatever it acquired.
		go func() {
			if err := <-errCh; err == nil {
				_ = safeCall(func() error { return impl.Teardown(exec.WithContext(context.Background())) })
			}
		}()
		return xerrors.Wrap(xerrors.CodeTimeout, setupCtx.Err(), fmt.Sprintf("plugin setup exceeded %s", timeout))
	}
}

// Teardown implements registry.ExecutionUnit. A unit still loading is torn
// down once the load settles. Errors and panics are logged, never returned.
func (u *LazyUnit) Teardown(ctx context.Context) {
	u.mu.Lock()
	if u.state == registry.StateLoading {
		done := u.done
		u.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			u.log.Warn("teardown deferred until load completes", slog.Any("error", ctx.Err()))
			go func() {
				<-done
				u.Teardown(context.Background())
			}()
			return
		}
		u.mu.Lock()
	}
	if u.tornDown {
		u.mu.Unlock()
		return
	}
	u.tornDown = true
	l := u.loaded
	u.mu.Unlock()

	if l == nil {
		return
	}
	err := safeCall(func() error { return l.impl.Teardown(l.exec.WithContext(ctx)) })
	err = multierr.Append(err, u.host.isolation().Cleanup(l.info))
	if err != nil {
		metrics.ObserveTeardown("failure")
		u.log.Warn("plugin teardown failed",
			slog.Any("error", xerrors.Wrap(xerrors.CodeUnitTeardownFailed, err, "teardown plugin "+u.plugin.Name, u.meta()...)))
		return
	}
	metrics.ObserveTeardown("success")
	u.log.Debug("plugin unit torn down")
}

// TornDown reports whether Teardown has run.
func (u *LazyUnit) TornDown() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.tornDown
}

// UsedImports implements registry.ExecutionUnit.
func (u *LazyUnit) UsedImports() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != registry.StateReady || u.loaded.imports == nil {
		return nil
	}
	return append([]string{}, u.loaded.imports...)
}

// ScheduledTasks implements registry.TaskUnit.
func (u *LazyUnit) ScheduledTasks() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != registry.StateReady || len(u.loaded.tasks) == 0 {
		return nil
	}
	return append([]string{}, u.loaded.tasks...)
}

// RunTask implements registry.TaskUnit.
func (u *LazyUnit) RunTask(ctx context.Context, task string) error {
	u.mu.Lock()
	state, torn, l := u.state, u.tornDown, u.loaded
	u.mu.Unlock()

	if state != registry.StateReady || torn {
		return xerrors.New(CodeUnitNotReady, fmt.Sprintf("unit is %s", state), u.meta()...)
	}
	runner, ok := l.impl.(plugin.TaskRunner)
	if !ok || !slices.Contains(l.tasks, task) {
		return xerrors.New(xerrors.CodeNotFound, "plugin does not export task "+task, u.meta()...)
	}
	err := safeCall(func() error { return runner.RunTask(l.exec.WithContext(ctx), plugin.Task(task)) })
	if err != nil {
		return xerrors.Wrap(CodeTaskFailed, err, "run "+task, u.meta()...)
	}
	return nil
}

func (u *LazyUnit) meta() []xerrors.Option {
	return []xerrors.Option{
		xerrors.WithMetadata("plugin_config_id", strconv.FormatInt(u.config.ID, 10)),
		xerrors.WithMetadata("plugin_id", strconv.FormatInt(u.plugin.ID, 10)),
		xerrors.WithMetadata("plugin", u.plugin.Name),
	}
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panic: %v", r)
		}
	}()
	return fn()
}
