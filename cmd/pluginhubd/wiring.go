package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"PluginHub/internal/config"
	"PluginHub/internal/observability/alerting"
	"PluginHub/internal/reconcile"
	filestore "PluginHub/internal/storage/file"
	mysqlstore "PluginHub/internal/storage/mysql"
	"PluginHub/internal/task"
	"PluginHub/internal/unit"
	"PluginHub/pkg/logger"
	"PluginHub/pkg/plugin"
	"PluginHub/pkg/plugin/builtin"
)

// snapshotSource bundles the configured source with its lifecycle hooks.
type snapshotSource struct {
	reconcile.SnapshotSource
	file  *filestore.SnapshotSource
	ping  func(context.Context) error
	close func() error
}

func openSource(ctx context.Context, cfg *config.Config) (*snapshotSource, error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		return &snapshotSource{
			SnapshotSource: filestore.NewStaticSource(filestore.Document{}),
			close:          func() error { return nil },
		}, nil
	case config.StorageFile:
		src := filestore.NewSnapshotSource(cfg.Storage.File.Path)
		return &snapshotSource{SnapshotSource: src, file: src, close: func() error { return nil }}, nil
	case config.StorageMySQL:
		src, err := mysqlstore.NewSnapshotSource(ctx, cfg.Storage.MySQL)
		if err != nil {
			return nil, err
		}
		return &snapshotSource{SnapshotSource: src, ping: src.Ping, close: src.Close}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// newHost resolves plugin code from the builtin catalog first and falls back
// to shared objects in the sandbox plugin directory.
func newHost(cfg *config.Config, resources map[string]any) (*unit.Host, error) {
	var sandbox plugin.SandboxConfig
	if cfg.Sandbox.Path != "" {
		loaded, err := plugin.LoadSandboxConfig(cfg.Sandbox.Path)
		if err != nil {
			return nil, err
		}
		sandbox = loaded
	}
	if err := sandbox.Validate(); err != nil {
		return nil, err
	}

	catalog := plugin.NewCatalog(plugin.WithFallback(plugin.GoPluginLoader{Dir: sandbox.PluginDir}))
	if err := builtin.Register(catalog); err != nil {
		return nil, err
	}
	return &unit.Host{
		Loader:    catalog,
		Isolation: plugin.NoopIsolationStrategy{},
		Sandbox:   sandbox,
		Resources: resources,
		Logger:    logger.Named("unit"),
	}, nil
}

func newQueue(cfg *config.Config) (task.Queue, error) {
	switch cfg.Queue.Driver {
	case config.QueueMemory:
		return task.NewMemoryQueue(cfg.Queue.BufferSize), nil
	case config.QueueRedis:
		q, err := task.NewRedisQueue(cfg.Queue.Redis)
		if err != nil {
			return nil, err
		}
		return q, nil
	case config.QueueRabbitMQ:
		q, err := task.NewRabbitMQQueue(cfg.Queue.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
	}
}

func newAlerter(cfg *config.Config) *alerting.FanoutDispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerts")}}
	if cfg.Alerting.SlackWebhookURL != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    alerting.NewWebhookSender(cfg.Alerting.SlackWebhookURL),
			ChannelID: cfg.Alerting.SlackChannel,
		})
	}
	return alerting.NewFanout(notifiers...)
}

// readinessCheck adapts a context-aware ping to a healthcheck.Check.
func readinessCheck(ping func(context.Context) error) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return ping(ctx)
	}
}

func closeQuietly(log *slog.Logger, what string, fn func() error) {
	if err := fn(); err != nil {
		log.Warn("close failed", slog.String("component", what), slog.Any("error", err))
	}
}
