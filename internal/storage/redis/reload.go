package redis

import (
	"context"
	"errors"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	xerrors "PluginHub/internal/errors"
	"PluginHub/pkg/logger"
)

// DefaultReloadChannel is the pub/sub channel plugin edits are announced on.
const DefaultReloadChannel = "reload-plugins"

// Config describes the Redis connection of the reload bus.
type Config struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// ReloadBus publishes and subscribes to reload notifications.
type ReloadBus struct {
	client  goredis.UniversalClient
	channel string
	log     *slog.Logger
}

// NewReloadBus connects to Redis and pings it.
func NewReloadBus(ctx context.Context, cfg Config) (*ReloadBus, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "connect to redis")
	}
	return NewReloadBusWithClient(client, cfg.Channel), nil
}

// NewReloadBusWithClient wraps an existing client.
func NewReloadBusWithClient(client goredis.UniversalClient, channel string) *ReloadBus {
	if channel == "" {
		channel = DefaultReloadChannel
	}
	return &ReloadBus{client: client, channel: channel, log: logger.Named("reload-bus")}
}

// Channel returns the channel name.
func (b *ReloadBus) Channel() string { return b.channel }

// Publish announces a reload to every subscribed instance.
func (b *ReloadBus) Publish(ctx context.Context, reason string) error {
	if err := b.client.Publish(ctx, b.channel, reason).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "publish reload",
			xerrors.WithMetadata("channel", b.channel))
	}
	return nil
}

// Subscribe forwards every message on the channel to trigger until ctx is
// cancelled. It returns once the subscription is confirmed.
func (b *ReloadBus) Subscribe(ctx context.Context, trigger func(reason string) bool) error {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "subscribe to reload channel",
			xerrors.WithMetadata("channel", b.channel))
	}

	go func() {
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				reason := "pubsub"
				if msg.Payload != "" {
					reason = "pubsub:" + msg.Payload
				}
				queued := trigger(reason)
				b.log.Info("reload requested", "channel", msg.Channel, "reason", reason, "queued", queued)
			}
		}
	}()
	return nil
}

// Close releases the client.
func (b *ReloadBus) Close() error {
	if err := b.client.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}
