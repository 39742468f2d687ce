package plugin

import (
	"context"
	"fmt"
	"sync"
)

// RegistryError is returned for registry-level failures (duplicate IDs,
// unknown plugin/tool lookups).
type RegistryError struct {
	Op      string
	Message string
}

func (e *RegistryError) Error() string { return fmt.Sprintf("plugin registry: %s: %s", e.Op, e.Message) }

// Registry holds every registered plugin. It is effectively immutable once
// Start() has been called on the board runner (spec §5 "Shared resources").
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds p to the registry. Registration rejects duplicate ids
// (spec §4.7).
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[p.ID()]; exists {
		return &RegistryError{Op: "Register", Message: fmt.Sprintf("plugin id %q already registered", p.ID())}
	}
	r.plugins[p.ID()] = p
	return nil
}

// Get returns the plugin by id.
func (r *Registry) Get(id string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	return p, ok
}

// All returns every registered plugin, regardless of availability.
func (r *Registry) All() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p)
	}
	return out
}

// Templates returns only the plugins whose IsAvailable() is currently true
// (spec §4.7 "getTemplates() returns only plugins whose isAvailable() is
// true").
func (r *Registry) Templates() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		if p.IsAvailable() {
			out = append(out, p)
		}
	}
	return out
}

// ExecuteTool dispatches to pluginID's operation, invoking the plugin with
// the merged parameter map: the tool entity's config under the call params,
// call params winning (spec §4.9 step 3.b). The entity config also rides
// along unmerged as ec.Config so the plugin can distinguish its own
// settings from operation arguments. Unavailable or unknown
// plugins/operations produce a structured Result error rather than a Go
// error return, matching spec §4.7 ("produces a structured error, not an
// exception").
func (r *Registry) ExecuteTool(ctx context.Context, pluginID string, ec ExecutionContext, operation string, config, params map[string]any) Result {
	p, ok := r.Get(pluginID)
	if !ok {
		return Result{Err: &ExecError{Code: "not_found", Message: fmt.Sprintf("plugin %q is not registered", pluginID)}}
	}
	if !p.IsAvailable() {
		return Result{Err: &ExecError{Code: "not_found", Message: fmt.Sprintf("plugin %q is not available", pluginID)}}
	}
	found := false
	for _, t := range p.Tools() {
		if t.Operation == operation {
			found = true
			break
		}
	}
	if !found {
		return Result{Err: &ExecError{Code: "not_found", Message: fmt.Sprintf("plugin %q has no operation %q", pluginID, operation)}}
	}
	ec.Config = config
	merged := make(map[string]any, len(config)+len(params))
	for k, v := range config {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return p.Execute(ctx, ec, operation, merged)
}

// InitializeAll calls Initialize on every registered plugin that implements
// Initializer, using DefaultConfig merged under any per-plugin overrides
// supplied in configs. Used by the Board Runner's start (§4.14).
func (r *Registry) InitializeAll(configs map[string]map[string]any) error {
	for _, p := range r.All() {
		init, ok := p.(Initializer)
		if !ok {
			continue
		}
		cfg := p.DefaultConfig()
		if override, ok := configs[p.ID()]; ok {
			if cfg == nil {
				cfg = map[string]any{}
			}
			for k, v := range override {
				cfg[k] = v
			}
		}
		if err := p.ValidateConfig(cfg); err != nil {
			return &RegistryError{Op: "InitializeAll", Message: fmt.Sprintf("plugin %q: invalid config: %v", p.ID(), err)}
		}
		if err := init.Initialize(cfg); err != nil {
			return &RegistryError{Op: "InitializeAll", Message: fmt.Sprintf("plugin %q: initialize: %v", p.ID(), err)}
		}
	}
	return nil
}

// HealthCheckAll calls HealthCheck on every registered plugin implementing
// HealthChecker, returning every failure keyed by plugin id. A plugin that
// is present but degraded (spec SUPPLEMENTED FEATURES #2, e.g. a shell tool
// whose interpreter is missing) does not fail InitializeAll or Start — the
// caller decides whether to log or otherwise surface these.
func (r *Registry) HealthCheckAll() map[string]error {
	out := make(map[string]error)
	for _, p := range r.All() {
		hc, ok := p.(HealthChecker)
		if !ok {
			continue
		}
		if err := hc.HealthCheck(); err != nil {
			out[p.ID()] = err
		}
	}
	return out
}

// DisposeAll calls Dispose on every registered plugin implementing
// Disposer, collecting (not stopping on) individual errors.
func (r *Registry) DisposeAll() []error {
	var errs []error
	for _, p := range r.All() {
		if d, ok := p.(Disposer); ok {
			if err := d.Dispose(); err != nil {
				errs = append(errs, fmt.Errorf("plugin %q: dispose: %w", p.ID(), err))
			}
		}
	}
	return errs
}
