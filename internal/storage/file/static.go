package file

import (
	"context"

	"PluginHub/internal/registry"
)

// StaticSource serves a fixed document. It backs the memory storage driver.
type StaticSource struct {
	doc Document
}

// NewStaticSource returns a source that always yields doc.
func NewStaticSource(doc Document) *StaticSource {
	return &StaticSource{doc: doc}
}

// LoadSnapshot implements reconcile.SnapshotSource.
func (s *StaticSource) LoadSnapshot(ctx context.Context) (*registry.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, _ := registry.NewSnapshot(s.doc.Plugins, s.doc.Configurations)
	return snap, nil
}
