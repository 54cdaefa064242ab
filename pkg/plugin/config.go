package plugin

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SandboxConfig describes how plugin code is resolved and initialised.
type SandboxConfig struct {
	// PluginDir is where GoPluginLoader looks for <name>.so files.
	PluginDir string `yaml:"pluginDir"`
	// LoadTimeout bounds a single Setup call. Zero means no bound.
	LoadTimeout time.Duration         `yaml:"loadTimeout"`
	Strict      bool                  `yaml:"strict"`
	Defaults    ImportPolicy          `yaml:"defaults"`
	Plugins     map[string]PluginRule `yaml:"plugins"`
}

// PluginRule is the per-plugin-name override block.
type PluginRule struct {
	Path   string        `yaml:"path"`
	Policy *ImportPolicy `yaml:"policy"`
}

// ImportPolicy governs which host imports a plugin may declare.
type ImportPolicy struct {
	AllowedImports []string `yaml:"allowedImports"`
	DeniedImports  []string `yaml:"deniedImports"`
}

// Merge returns a new policy using values from other when not present.
func (p ImportPolicy) Merge(other ImportPolicy) ImportPolicy {
	if len(p.AllowedImports) == 0 {
		p.AllowedImports = other.AllowedImports
	}
	if len(p.DeniedImports) == 0 {
		p.DeniedImports = other.DeniedImports
	}
	return p
}

// PolicyFor returns the effective policy for a plugin name.
func (c SandboxConfig) PolicyFor(name string) ImportPolicy {
	rule, ok := c.Plugins[name]
	if !ok {
		return c.Defaults
	}
	return MergePolicies(c.Defaults, rule.Policy)
}

// PathFor returns the configured path override for a plugin name.
func (c SandboxConfig) PathFor(name string) string {
	return c.Plugins[name].Path
}

// LoadSandboxConfig reads a YAML file into a SandboxConfig.
func LoadSandboxConfig(path string) (SandboxConfig, error) {
	var cfg SandboxConfig
	if path == "" {
		return cfg, errors.New("sandbox config path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read sandbox config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal sandbox config: %w", err)
	}
	if cfg.Plugins == nil {
		cfg.Plugins = map[string]PluginRule{}
	}
	return cfg, cfg.Validate()
}

// Validate ensures the sandbox configuration is internally consistent.
func (c SandboxConfig) Validate() error {
	if c.LoadTimeout < 0 {
		return errors.New("loadTimeout cannot be negative")
	}
	for name, rule := range c.Plugins {
		if name == "" {
			return errors.New("plugin rule name cannot be empty")
		}
		if rule.Policy == nil {
			continue
		}
		for _, imp := range rule.Policy.AllowedImports {
			if imp == "" {
				return fmt.Errorf("plugin %s: empty allowed import", name)
			}
		}
	}
	return nil
}
