package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	xerrors "PluginHub/internal/errors"
)

const sampleDocument = `plugins:
  - id: 1
    name: heartbeat
    isStateless: true
    updatedAt: 2024-03-01T10:00:00Z
  - id: 2
    name: event-logger
    updatedAt: 2024-03-01T10:00:00Z
    declaredImports: [log]
configurations:
  - id: 10
    pluginId: 1
    teamId: 7
    order: 2
    enabled: true
    updatedAt: 2024-03-02T10:00:00Z
  - id: 11
    pluginId: 2
    teamId: 7
    order: 1
    enabled: true
    updatedAt: 2024-03-02T10:00:00Z
    settings:
      target: stdout
  - id: 12
    pluginId: 2
    teamId: 8
    enabled: false
    updatedAt: 2024-03-02T10:00:00Z
  - id: 13
    pluginId: 42
    teamId: 8
    enabled: true
    updatedAt: 2024-03-02T10:00:00Z
`

func writeDocument(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugins.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write document: %v", err)
	}
	return path
}

func TestLoadSnapshot(t *testing.T) {
	src := NewSnapshotSource(writeDocument(t, sampleDocument))
	snap, err := src.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := snap.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(snap.Plugins) != 2 {
		t.Fatalf("expected 2 plugins, got %d", len(snap.Plugins))
	}
	ids := snap.ConfigurationIDs()
	if len(ids) != 2 || ids[0] != 10 || ids[1] != 11 {
		t.Fatalf("unexpected configuration ids %v", ids)
	}
	if !snap.Plugins[1].IsStateless {
		t.Fatalf("plugin 1 should be stateless")
	}
	if got := snap.Configurations[11].Settings["target"]; got != "stdout" {
		t.Fatalf("unexpected settings value %v", got)
	}
	want := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	if !snap.Configurations[10].UpdatedAt.Equal(want) {
		t.Fatalf("unexpected updatedAt %v", snap.Configurations[10].UpdatedAt)
	}
}

func TestLoadSnapshotRejectsDuplicates(t *testing.T) {
	src := NewSnapshotSource(writeDocument(t, `plugins:
  - id: 1
    name: a
  - id: 1
    name: b
`))
	_, err := src.LoadSnapshot(context.Background())
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestLoadSnapshotMissingFile(t *testing.T) {
	src := NewSnapshotSource(filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := src.LoadSnapshot(context.Background())
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected STORAGE_FAILURE, got %v", err)
	}
}

func TestWatchTriggersOnWrite(t *testing.T) {
	path := writeDocument(t, sampleDocument)
	src := NewSnapshotSource(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan string, 4)
	if err := src.Watch(ctx, func(reason string) bool {
		fired <- reason
		return true
	}); err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := os.WriteFile(path, []byte(sampleDocument+"\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case reason := <-fired:
		if reason != "file-changed" {
			t.Fatalf("unexpected reason %q", reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watch did not trigger")
	}
}

func TestStaticSourceServesDocument(t *testing.T) {
	doc, err := ReadDocument(writeDocument(t, sampleDocument))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	src := NewStaticSource(*doc)
	for i := 0; i < 2; i++ {
		snap, err := src.LoadSnapshot(context.Background())
		if err != nil {
			t.Fatalf("load %d: %v", i, err)
		}
		if len(snap.Configurations) != 2 {
			t.Fatalf("load %d: expected 2 configurations, got %d", i, len(snap.Configurations))
		}
	}
}
