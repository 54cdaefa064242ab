// Package file reads plugin snapshots from a YAML document. It backs local
// development and the inspect command, and can watch the document so edits
// trigger a reconciliation cycle.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	xerrors "PluginHub/internal/errors"
	"PluginHub/internal/registry"
	"PluginHub/pkg/logger"
)

// Document is the on-disk layout.
type Document struct {
	Plugins        []*registry.Plugin        `yaml:"plugins"`
	Configurations []*registry.Configuration `yaml:"configurations"`
}

// SnapshotSource loads a Document on every cycle.
type SnapshotSource struct {
	path string
	log  *slog.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	debounce *time.Timer
}

// NewSnapshotSource returns a source reading path.
func NewSnapshotSource(path string) *SnapshotSource {
	return &SnapshotSource{path: path, log: logger.Named("file-source")}
}

// Path returns the watched document path.
func (s *SnapshotSource) Path() string { return s.path }

// LoadSnapshot implements reconcile.SnapshotSource.
func (s *SnapshotSource) LoadSnapshot(ctx context.Context) (*registry.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := ReadDocument(s.path)
	if err != nil {
		return nil, err
	}
	snap, orphans := registry.NewSnapshot(doc.Plugins, doc.Configurations)
	if len(orphans) > 0 {
		s.log.Warn("dropping configurations of unknown plugins", "plugin_config_ids", orphans)
	}
	return snap, nil
}

// ReadDocument parses the YAML document at path.
func ReadDocument(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read snapshot file",
			xerrors.WithMetadata("path", path))
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode snapshot file",
			xerrors.WithMetadata("path", path))
	}
	if err := doc.check(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid snapshot file",
			xerrors.WithMetadata("path", path))
	}
	return &doc, nil
}

func (d *Document) check() error {
	plugins := make(map[int64]struct{}, len(d.Plugins))
	for i, p := range d.Plugins {
		if p == nil || p.ID <= 0 {
			return fmt.Errorf("plugins[%d]: id must be positive", i)
		}
		if _, dup := plugins[p.ID]; dup {
			return fmt.Errorf("plugins[%d]: duplicate id %d", i, p.ID)
		}
		plugins[p.ID] = struct{}{}
	}
	configs := make(map[int64]struct{}, len(d.Configurations))
	for i, c := range d.Configurations {
		if c == nil || c.ID <= 0 {
			return fmt.Errorf("configurations[%d]: id must be positive", i)
		}
		if _, dup := configs[c.ID]; dup {
			return fmt.Errorf("configurations[%d]: duplicate id %d", i, c.ID)
		}
		configs[c.ID] = struct{}{}
	}
	return nil
}

// Watch calls trigger after the document changes. Events are debounced so an
// editor's write-rename sequence produces one call. The parent directory is
// watched because many editors replace the file rather than write it.
func (s *SnapshotSource) Watch(ctx context.Context, trigger func(reason string) bool) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch snapshot dir: %w", err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	go s.watchLoop(ctx, watcher, trigger)
	return nil
}

func (s *SnapshotSource) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, trigger func(string) bool) {
	defer s.stopWatch()
	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			s.mu.Lock()
			if s.debounce != nil {
				s.debounce.Stop()
			}
			s.debounce = time.AfterFunc(250*time.Millisecond, func() {
				if trigger("file-changed") {
					s.log.Info("snapshot file changed", "path", s.path)
				}
			})
			s.mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Error("watcher error", "error", err)
		}
	}
}

func (s *SnapshotSource) stopWatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
}
