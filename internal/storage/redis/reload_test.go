package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "PluginHub/internal/errors"
)

func TestNewReloadBusRequiresAddress(t *testing.T) {
	_, err := NewReloadBus(context.Background(), Config{})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestDefaultChannel(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	bus := NewReloadBusWithClient(client, "")
	defer bus.Close()
	if bus.Channel() != DefaultReloadChannel {
		t.Fatalf("unexpected channel %q", bus.Channel())
	}
}

// Requires a live server: PLUGINHUB_TEST_REDIS=127.0.0.1:6379.
func TestPublishReachesSubscriber(t *testing.T) {
	addr := os.Getenv("PLUGINHUB_TEST_REDIS")
	if addr == "" {
		t.Skip("PLUGINHUB_TEST_REDIS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus, err := NewReloadBus(ctx, Config{Address: addr, Channel: "pluginhub-test-reload"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer bus.Close()

	got := make(chan string, 1)
	if err := bus.Subscribe(ctx, func(reason string) bool {
		got <- reason
		return true
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(ctx, "api"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case reason := <-got:
		if reason != "pubsub:api" {
			t.Fatalf("unexpected reason %q", reason)
		}
	case <-ctx.Done():
		t.Fatalf("no reload received")
	}
}
