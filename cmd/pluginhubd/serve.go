package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"PluginHub/internal/api"
	"PluginHub/internal/auth"
	"PluginHub/internal/config"
	"PluginHub/internal/observability/metrics"
	"PluginHub/internal/reconcile"
	"PluginHub/internal/registry"
	"PluginHub/internal/schedule"
	redisstore "PluginHub/internal/storage/redis"
	"PluginHub/internal/task"
	"PluginHub/pkg/logger"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run reconciliation cycles and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("pluginhubd")
	metrics.Register()

	source, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeQuietly(log, "snapshot source", source.close)

	events := make(chan map[string]any, 256)
	host, err := newHost(cfg, map[string]any{
		"events:input": (<-chan map[string]any)(events),
	})
	if err != nil {
		return err
	}

	store := registry.NewStore(cfg.Capabilities)
	alerter := newAlerter(cfg)
	builder := schedule.NewBuilder()

	engine, err := reconcile.NewEngine(store, source, host,
		reconcile.WithLogger(logger.Named("reconcile")),
		reconcile.WithAlerter(alerter),
		reconcile.WithScheduleHandoff(builder),
		reconcile.WithImportGauge(metrics.NewImportGauge(nil)),
		reconcile.WithLoadConcurrency(cfg.Reconcile.LoadConcurrency),
		reconcile.WithTeardownWorkers(cfg.Reconcile.TeardownWorkers),
		reconcile.WithTeardownTimeout(cfg.Reconcile.TeardownTimeout),
	)
	if err != nil {
		return err
	}
	runner := reconcile.NewRunner(engine, cfg.Reconcile.Interval)

	apiOpts := []api.Option{
		api.WithSchedule(builder),
		api.WithHealthRegisterer(metrics.Registry),
	}
	authSvc, err := auth.NewService(cfg.Auth)
	if err != nil {
		return err
	}
	apiOpts = append(apiOpts, api.WithAuth(authSvc.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet:  {auth.PermissionRead},
			http.MethodPost: {auth.PermissionReload},
		},
	})))
	if source.ping != nil {
		apiOpts = append(apiOpts, api.WithReadinessCheck("snapshot-source", readinessCheck(source.ping)))
	}

	g, gctx := errgroup.WithContext(ctx)

	if source.file != nil && cfg.Storage.File.Watch {
		if err := source.file.Watch(gctx, runner.Trigger); err != nil {
			return err
		}
		log.Info("watching plugin fixture", slog.String("path", source.file.Path()))
	}

	if cfg.Reload.Enabled {
		bus, err := redisstore.NewReloadBus(ctx, cfg.Reload.Redis)
		if err != nil {
			return err
		}
		defer closeQuietly(log, "reload bus", bus.Close)
		if err := bus.Subscribe(gctx, runner.Trigger); err != nil {
			return err
		}
		apiOpts = append(apiOpts, api.WithReloadPublisher(bus))
	}

	if cfg.Capabilities.ScheduledTasks {
		queue, err := newQueue(cfg)
		if err != nil {
			return err
		}
		defer closeQuietly(log, "task queue", queue.Close)

		dispatcher := schedule.NewDispatcher(builder, queue)
		processor := task.NewProcessor(store, queue,
			task.WithProcessorLogger(logger.Named("task")),
			task.WithWorkerCount(cfg.Queue.Workers),
			task.WithJobTimeout(cfg.Queue.JobTimeout),
			task.WithAlertDispatcher(alerter),
		)
		g.Go(func() error { return ignoreCanceled(dispatcher.Run(gctx)) })
		g.Go(func() error { return ignoreCanceled(processor.Start(gctx)) })
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Address != "" {
		g.Go(func() error { return ignoreCanceled(metrics.StartServer(gctx, cfg.Metrics.Address)) })
	}

	g.Go(func() error { return ignoreCanceled(runner.Run(gctx)) })

	server := api.NewServer(cfg.Server.Address, store, runner, apiOpts...)
	g.Go(func() error { return ignoreCanceled(server.Start(gctx)) })

	log.Info("pluginhubd started",
		slog.String("storage", cfg.Storage.Driver),
		slog.Bool("scheduled_tasks", cfg.Capabilities.ScheduledTasks),
		slog.Bool("reload_channel", cfg.Reload.Enabled),
	)
	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	closeErr := engine.Close(shutdownCtx)
	store.Close(shutdownCtx)
	close(events)
	log.Info("pluginhubd stopped")

	return errors.Join(runErr, closeErr)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
