// Package alerting 将协调周期与定时任务执行中产生的失败事件分发到已配置的通知渠道。
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.uber.org/multierr"

	xerrors "PluginHub/internal/errors"
	"PluginHub/pkg/logger"
)

// Channel 表示一个通知渠道。
type Channel string

const (
	ChannelLog   Channel = "log"
	ChannelSlack Channel = "slack"
)

// Event 描述一条需要关注的事件。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	CycleID    string
	Metadata   map[string]string
	OccurredAt time.Time
}

// EventFromError 根据带错误码的错误构造事件，普通错误归为 UNKNOWN。
func EventFromError(err error) Event {
	ev := Event{
		Code:       xerrors.CodeOf(err),
		Severity:   xerrors.SeverityOf(err),
		OccurredAt: time.Now().UTC(),
	}
	if err != nil {
		ev.Message = err.Error()
	}
	if coded, ok := xerrors.From(err); ok {
		ev.Metadata = coded.Metadata()
	}
	return ev
}

// Notifier 负责向单个渠道发送事件。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 接收待发送的事件。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 将事件发送给所有已注册的通知器。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建 FanoutDispatcher，同一渠道后注册的通知器会覆盖先注册的。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Channels 按字典序返回已注册的渠道。
func (d *FanoutDispatcher) Channels() []Channel {
	if d == nil {
		return nil
	}
	out := make([]Channel, 0, len(d.notifiers))
	for ch := range d.notifiers {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Notify 向所有渠道广播事件并合并各渠道的错误。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs error
	for _, ch := range d.Channels() {
		notifier := d.notifiers[ch]
		if err := notifier.Notify(ctx, event); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("channel %s: %w", ch, err))
		}
	}
	return errs
}

// LogNotifier 将事件写入应用日志。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel implements Notifier.
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	log := logger.Named("alerting")
	if n != nil && n.Logger != nil {
		log = n.Logger
	}
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.Time("occurred_at", event.OccurredAt),
	}
	if event.CycleID != "" {
		attrs = append(attrs, slog.String("cycle_id", event.CycleID))
	}
	for _, k := range sortedKeys(event.Metadata) {
		attrs = append(attrs, slog.String(k, event.Metadata[k]))
	}
	level := slog.LevelWarn
	if event.Severity == xerrors.SeverityCritical {
		level = slog.LevelError
	}
	log.Log(ctx, level, event.Message, attrs...)
	return nil
}

// SlackSender 向 Slack 频道发送消息。
type SlackSender interface {
	Send(ctx context.Context, channel, content string) error
}

// SlackNotifier 将告警发送到 Slack。
type SlackNotifier struct {
	Sender    SlackSender
	ChannelID string
}

// Channel implements Notifier.
func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || n.ChannelID == "" {
		logger.L().Warn("slack notifier not configured, skipping", slog.String("code", string(event.Code)))
		return nil
	}
	content := fmt.Sprintf("*[%s]* %s - %s", event.Severity, event.Code, event.Message)
	if id := event.Metadata["plugin_config_id"]; id != "" {
		content += fmt.Sprintf(" (plugin config %s)", id)
	}
	return n.Sender.Send(ctx, n.ChannelID, content)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
