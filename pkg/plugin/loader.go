package plugin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	goplugin "plugin"
)

// Loader resolves a plugin revision into a fresh Plugin instance. Every call
// must return a new instance: stateful units never share one.
type Loader interface {
	Load(ctx context.Context, src Source) (Plugin, error)
}

// GoPluginLoader uses the Go standard library plugin mechanism to dynamically
// load modules from Dir/<name>.so.
type GoPluginLoader struct {
	Dir string
}

// Load opens the shared object and resolves its `Plugin` symbol. The symbol
// should be a constructor; a plain value is returned as is.
func (l GoPluginLoader) Load(_ context.Context, src Source) (Plugin, error) {
	path := src.Path
	if path == "" {
		if src.Name == "" {
			return nil, errors.New("plugin name cannot be empty")
		}
		path = src.Name + ".so"
	}
	if !filepath.IsAbs(path) && l.Dir != "" {
		path = filepath.Join(l.Dir, path)
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	symbol, err := so.Lookup("Plugin")
	if err != nil {
		return nil, err
	}
	switch p := symbol.(type) {
	case *func() Plugin:
		if p == nil || *p == nil {
			return nil, errors.New("plugin constructor is nil")
		}
		return (*p)(), nil
	case func() Plugin:
		return p(), nil
	case Plugin:
		return p, nil
	case *Plugin:
		if p == nil || *p == nil {
			return nil, errors.New("plugin symbol is nil")
		}
		return *p, nil
	default:
		return nil, errors.New("plugin symbol must implement plugin.Plugin")
	}
}
