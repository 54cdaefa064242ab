package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a fresh plugin instance.
type Constructor func() Plugin

// Catalog is a Loader backed by constructors registered in-process. Names it
// does not know are handed to the fallback loader, if any.
type Catalog struct {
	mu       sync.RWMutex
	entries  map[string]Constructor
	fallback Loader
}

// Option modifies the behaviour of a Catalog.
type Option func(*Catalog)

// WithFallback sets the loader used for names missing from the catalog.
func WithFallback(loader Loader) Option {
	return func(c *Catalog) {
		if loader != nil {
			c.fallback = loader
		}
	}
}

// WithPlugin registers a constructor at construction time.
func WithPlugin(name string, ctor Constructor) Option {
	return func(c *Catalog) {
		_ = c.Register(name, ctor)
	}
}

// NewCatalog constructs an empty catalog.
func NewCatalog(opts ...Option) *Catalog {
	c := &Catalog{entries: make(map[string]Constructor)}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Register adds a constructor under name.
func (c *Catalog) Register(name string, ctor Constructor) error {
	if name == "" {
		return errors.New("plugin name cannot be empty")
	}
	if ctor == nil {
		return errors.New("plugin constructor cannot be nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[name]; exists {
		return fmt.Errorf("plugin %s already registered", name)
	}
	c.entries[name] = ctor
	return nil
}

// Names returns the registered names in lexical order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load implements Loader.
func (c *Catalog) Load(ctx context.Context, src Source) (Plugin, error) {
	c.mu.RLock()
	ctor, ok := c.entries[src.Name]
	c.mu.RUnlock()
	if ok {
		p := ctor()
		if p == nil {
			return nil, fmt.Errorf("plugin %s constructor returned nil", src.Name)
		}
		return p, nil
	}
	if c.fallback != nil {
		return c.fallback.Load(ctx, src)
	}
	return nil, fmt.Errorf("plugin %s not registered", src.Name)
}
