package task

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	xerrors "PluginHub/internal/errors"
	"PluginHub/internal/observability/alerting"
	"PluginHub/internal/observability/metrics"
	"PluginHub/internal/registry"
	"PluginHub/internal/unit"
	"PluginHub/pkg/logger"
)

// RegistrySource 返回当前已发布的注册表。
type RegistrySource interface {
	Load() *registry.Registry
}

// Processor 消费定时任务，并在已发布注册表中对应配置绑定的执行单元上运行。
type Processor struct {
	registry    RegistrySource
	consumer    Consumer
	workerCount int
	timeout     time.Duration
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 用于定制 Processor。
type ProcessorOption func(*Processor)

// WithProcessorLogger 设置日志记录器。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithJobTimeout 限制单次任务的运行时长。
func WithJobTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.timeout = d
	}
}

// WithAlertDispatcher 设置告警分发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 创建 Processor。
func NewProcessor(source RegistrySource, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		registry:    source,
		consumer:    consumer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 运行消费循环直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil || p.registry == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者或注册表")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

// handle 永远不要求重投，失败的定时任务会在下一个周期再次执行。
func (p *Processor) handle(ctx context.Context, payload string) error {
	job, err := ParseJob(payload)
	if err != nil {
		p.logDebug("dropping malformed job", slog.String("payload", payload), slog.Any("error", err))
		return nil
	}
	if err := p.Run(ctx, job); err != nil {
		if xerrors.CodeOf(err) == CodeJobSkipped {
			p.logDebug("job skipped", slog.String("job", job.String()), slog.String("reason", err.Error()))
			return nil
		}
		logger.Audit().Warn("scheduled task failed",
			slog.String("job", job.String()),
			slog.String("error", err.Error()),
			slog.String("error_code", string(xerrors.CodeOf(err))),
		)
		p.emitAlert(ctx, job, err)
	}
	return nil
}

// Run 同步执行 job。
func (p *Processor) Run(ctx context.Context, job Job) error {
	cfg, ok := p.registry.Load().Configuration(job.ConfigID)
	if !ok {
		return xerrors.New(CodeJobSkipped, "插件配置已不在注册表中")
	}
	runner, ok := cfg.Unit.(registry.TaskUnit)
	if !ok {
		return xerrors.New(CodeJobSkipped, "插件单元不支持执行任务")
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	started := time.Now()
	err := runner.RunTask(ctx, job.Task)
	if err != nil {
		switch xerrors.CodeOf(err) {
		case unit.CodeUnitNotReady, xerrors.CodeNotFound:
			metrics.ObserveTaskRun(job.Task, "skipped")
			return xerrors.Wrap(CodeJobSkipped, err, "unit cannot run "+job.Task)
		}
		metrics.ObserveTaskRun(job.Task, "failure")
		return xerrors.Wrap(CodeJobFailed, err, "run "+job.String(),
			xerrors.WithMetadata("plugin_config_id", strconv.FormatInt(job.ConfigID, 10)),
			xerrors.WithMetadata("task", job.Task))
	}
	metrics.ObserveTaskRun(job.Task, "success")
	logger.Audit().Info("scheduled task finished",
		slog.String("job", job.String()),
		slog.Int64("team_id", cfg.TeamID),
		slog.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func (p *Processor) logDebug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, job Job, cause error) {
	if p == nil || p.alerter == nil || !xerrors.ShouldAlert(cause) {
		return
	}
	event := alerting.EventFromError(cause)
	if event.Metadata == nil {
		event.Metadata = map[string]string{}
	}
	event.Metadata["job"] = job.String()
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("alert delivery failed",
			slog.Any("error", err),
			slog.String("job", job.String()),
		)
	}
}
