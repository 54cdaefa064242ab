package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"PluginHub/pkg/plugin"
)

func TestRegisterAddsBuiltins(t *testing.T) {
	catalog := plugin.NewCatalog()
	if err := Register(catalog); err != nil {
		t.Fatalf("register: %v", err)
	}
	if diff := cmp.Diff([]string{NameEventLogger, NameHeartbeat}, catalog.Names()); diff != "" {
		t.Fatalf("unexpected names (-want +got):\n%s", diff)
	}
	if err := Register(catalog); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestHeartbeatCountsTasks(t *testing.T) {
	hb := NewHeartbeat().(*Heartbeat)
	exec := &plugin.ExecutionContext{C: context.Background()}
	for _, task := range hb.Tasks() {
		if err := hb.RunTask(exec, task); err != nil {
			t.Fatalf("run %s: %v", task, err)
		}
	}
	if got := hb.Beats(); got != 2 {
		t.Fatalf("expected 2 beats, got %d", got)
	}
}

func TestEventLoggerConsumesUntilTeardown(t *testing.T) {
	events := make(chan map[string]any, 2)
	var reported int64 = -1
	exec := &plugin.ExecutionContext{
		C:      context.Background(),
		TeamID: 7,
		Resources: map[string]any{
			"events:input": (<-chan map[string]any)(events),
			"events:onTeardown": func(seen int64) error {
				reported = seen
				return nil
			},
		},
	}

	l := NewEventLogger().(*EventLogger)
	if err := l.Setup(exec); err != nil {
		t.Fatalf("setup: %v", err)
	}
	events <- map[string]any{"event": "$pageview"}
	events <- map[string]any{"event": "$identify"}

	deadline := time.Now().Add(2 * time.Second)
	for l.seen.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("events not consumed, seen=%d", l.seen.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := l.Teardown(exec); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if reported != 2 {
		t.Fatalf("expected teardown hook to see 2 events, got %d", reported)
	}
	if err := l.Teardown(exec); err != nil {
		t.Fatalf("second teardown: %v", err)
	}
}

func TestEventLoggerRequiresInput(t *testing.T) {
	l := NewEventLogger()
	if err := l.Setup(&plugin.ExecutionContext{C: context.Background()}); err == nil {
		t.Fatalf("expected setup without events input to fail")
	}
}
