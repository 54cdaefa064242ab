package plugin

import (
	"errors"
	"fmt"
	"slices"
)

// IsolationStrategy enforces security restrictions for plugins at runtime.
type IsolationStrategy interface {
	// Validate checks the imports a plugin revision declares against policy.
	Validate(name string, imports []string, policy ImportPolicy) error
	Prepare(info Info) error
	Cleanup(info Info) error
}

// NoopIsolationStrategy performs only import validation.
type NoopIsolationStrategy struct{}

// Validate ensures the declared imports are allowed.
func (NoopIsolationStrategy) Validate(name string, imports []string, policy ImportPolicy) error {
	for _, imp := range imports {
		if slices.Contains(policy.DeniedImports, imp) {
			return fmt.Errorf("plugin %s: import %s is explicitly denied", name, imp)
		}
	}
	if len(policy.AllowedImports) == 0 {
		return nil
	}
	for _, imp := range imports {
		if !slices.Contains(policy.AllowedImports, imp) {
			return fmt.Errorf("plugin %s: import %s not permitted", name, imp)
		}
	}
	return nil
}

// Prepare implements IsolationStrategy.
func (NoopIsolationStrategy) Prepare(Info) error { return nil }

// Cleanup implements IsolationStrategy.
func (NoopIsolationStrategy) Cleanup(Info) error { return nil }

// NewIsolationStrategy returns a default isolation strategy if none is supplied.
func NewIsolationStrategy(strategy IsolationStrategy) IsolationStrategy {
	if strategy == nil {
		return NoopIsolationStrategy{}
	}
	return strategy
}

// MergePolicies combines the default and plugin specific policies.
func MergePolicies(defaults ImportPolicy, override *ImportPolicy) ImportPolicy {
	if override == nil {
		return defaults
	}
	return override.Merge(defaults)
}

// EnsurePolicy returns an error when a plugin declares imports while the
// sandbox runs in strict mode without any policy.
func EnsurePolicy(imports []string, policy ImportPolicy, strict bool) error {
	if !strict || len(imports) == 0 {
		return nil
	}
	if len(policy.AllowedImports) == 0 && len(policy.DeniedImports) == 0 {
		return errors.New("plugins declaring imports require an import policy in strict mode")
	}
	return nil
}
