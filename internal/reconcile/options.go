package reconcile

import (
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"PluginHub/internal/observability/alerting"
	"PluginHub/internal/observability/metrics"
	"PluginHub/internal/unit"
)

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithFactory replaces the unit factory. The default produces LazyUnits.
func WithFactory(factory unit.Factory) Option {
	return func(e *Engine) {
		if factory != nil {
			e.factory = factory
		}
	}
}

// WithImportGauge sets the sink of plugin import indicators.
func WithImportGauge(gauge metrics.ImportGauge) Option {
	return func(e *Engine) {
		e.gauge = gauge
	}
}

// WithScheduleHandoff sets the component invoked after publication when the
// ScheduledTasks capability is on.
func WithScheduleHandoff(handoff ScheduleHandoff) Option {
	return func(e *Engine) {
		e.handoff = handoff
	}
}

// WithAlerter sets the dispatcher receiving alertable cycle errors.
func WithAlerter(alerter alerting.Dispatcher) Option {
	return func(e *Engine) {
		e.alerter = alerter
	}
}

// WithLoadConcurrency bounds parallel unit loads. Zero or a negative value
// launches every load at once.
func WithLoadConcurrency(n int) Option {
	return func(e *Engine) {
		e.loadConcurrency = n
	}
}

// WithTeardownWorkers sets the size of the teardown pool.
func WithTeardownWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.teardownWorkers = n
		}
	}
}

// WithTeardownTimeout bounds each background teardown.
func WithTeardownTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.teardownTimeout = d
	}
}

// WithSnapshotBackOff sets the retry policy of snapshot reads. The function
// is called once per cycle.
func WithSnapshotBackOff(newBackOff func() backoff.BackOff) Option {
	return func(e *Engine) {
		if newBackOff != nil {
			e.newBackOff = newBackOff
		}
	}
}

func defaultBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 200 * time.Millisecond
	exp.MaxInterval = 2 * time.Second
	exp.MaxElapsedTime = 10 * time.Second
	return backoff.WithMaxRetries(exp, 3)
}
