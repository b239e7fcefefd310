package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"labos/pkg/domain"
	"labos/pkg/moduleapi"
)

// ModuleRegistry maps string keys to versioned module descriptors and
// dispatches operation runs. Multiple versions of one key may coexist;
// resolution picks the newest unless a constraint narrows it.
type ModuleRegistry struct {
	mu      sync.RWMutex
	entries map[string][]moduleEntry
	slugs   map[string]struct{}
}

type moduleEntry struct {
	descriptor moduleapi.Descriptor
	version    *semver.Version
}

// NewModuleRegistry returns an empty registry.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{
		entries: map[string][]moduleEntry{},
		slugs:   map[string]struct{}{},
	}
}

// Register adds a descriptor. The version must parse as semver and the
// key@version pair must be unique.
func (r *ModuleRegistry) Register(descriptor moduleapi.Descriptor) error {
	if err := descriptor.Validate(); err != nil {
		return err
	}
	version, err := semver.NewVersion(descriptor.Version)
	if err != nil {
		return fmt.Errorf("module %s: invalid version %q: %w", descriptor.Key, descriptor.Version, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	slug := descriptor.Slug()
	if _, dup := r.slugs[slug]; dup {
		return fmt.Errorf("module %s already registered", slug)
	}
	r.slugs[slug] = struct{}{}
	entries := append(r.entries[descriptor.Key], moduleEntry{descriptor: descriptor, version: version})
	sort.Slice(entries, func(i, j int) bool { return entries[i].version.LessThan(entries[j].version) })
	r.entries[descriptor.Key] = entries
	return nil
}

// Resolve returns the newest registered version of key.
func (r *ModuleRegistry) Resolve(key string) (moduleapi.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.entries[key]
	if len(entries) == 0 {
		return moduleapi.Descriptor{}, false
	}
	return entries[len(entries)-1].descriptor, true
}

// ResolveVersion returns the newest version of key satisfying a semver
// constraint such as "1.x" or ">=0.2.0".
func (r *ModuleRegistry) ResolveVersion(key, constraint string) (moduleapi.Descriptor, error) {
	rng, err := semver.NewConstraint(constraint)
	if err != nil {
		return moduleapi.Descriptor{}, fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.entries[key]
	for i := len(entries) - 1; i >= 0; i-- {
		if rng.Check(entries[i].version) {
			return entries[i].descriptor, nil
		}
	}
	return moduleapi.Descriptor{}, domain.NotFoundError{Entity: domain.EntityModule, ID: key + "@" + constraint}
}

// List returns all registered descriptors sorted by key, then version.
func (r *ModuleRegistry) List() []moduleapi.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]moduleapi.Descriptor, 0, len(r.slugs))
	for _, key := range keys {
		for _, entry := range r.entries[key] {
			out = append(out, entry.descriptor)
		}
	}
	return out
}

// Keys returns the distinct registered module keys, sorted.
func (r *ModuleRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Run executes operation on the newest version of key. Unknown keys or
// operations return domain.NotFoundError; failures and panics inside the
// operation surface as domain.ModuleExecutionError.
func (r *ModuleRegistry) Run(ctx context.Context, key, operation string, params map[string]any) (result moduleapi.Result, err error) {
	descriptor, ok := r.Resolve(key)
	if !ok {
		return moduleapi.Result{}, domain.NotFoundError{Entity: domain.EntityModule, ID: key}
	}
	if operation == "" {
		operation = moduleapi.DefaultOperation
	}
	op, ok := descriptor.Operations[operation]
	if !ok {
		return moduleapi.Result{}, domain.NotFoundError{Entity: domain.EntityModuleOperation, ID: key + ":" + operation}
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			err = domain.ModuleExecutionError{Module: key, Operation: operation, Err: fmt.Errorf("panic: %v", recovered)}
		}
	}()
	out, runErr := op.Run(ctx, moduleapi.Params(params))
	if runErr != nil {
		return moduleapi.Result{}, domain.ModuleExecutionError{Module: key, Operation: operation, Err: runErr}
	}
	if out.Status == "" {
		out.Status = "ok"
	}
	return out, nil
}
