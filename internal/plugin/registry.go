// Package plugin implements the Plugin & Phase Registry (C9): named,
// versioned, ordered hooks invoked at fixed phase boundaries around
// inference. Plugins are stored as values indexed by name rather than via
// back-references into the registry, breaking the registry<->plugin cyclic
// reference the design explicitly calls out avoiding.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/infercore/infercore/internal/domain"
)

// Hook is invoked at a phase boundary. An error returned by a hook, at any
// phase, stops the remaining hooks of that phase and is returned by Invoke;
// the registry neither logs it nor treats STREAM/COMPLETE hooks differently.
type Hook func(ctx context.Context, token domain.ExecutionToken) (domain.ExecutionToken, error)

// Plugin is one named, versioned, ordered participant.
type Plugin struct {
	Name    string
	Version string
	Order   int
	Phases  map[domain.Phase]Hook
}

// Mode controls initialization failure handling (§4.9).
type Mode int

const (
	// ModeGraceful logs and skips a plugin that fails to initialize.
	ModeGraceful Mode = iota
	// ModeStrict fails registry construction on any plugin init error.
	ModeStrict
)

// InitFunc builds a Plugin, failing if the plugin cannot be constructed.
type InitFunc func(ctx context.Context) (Plugin, error)

// Registry holds plugins indexed by name, ordered by Plugin.Order within
// each phase. Populated at startup; later mutation is allowed but the
// caller must externally synchronize it (§4.9).
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	logger  *slog.Logger
}

// New builds a Registry by running each InitFunc. In ModeStrict, any
// failure aborts construction; in ModeGraceful, failures are logged and the
// plugin is skipped.
func New(ctx context.Context, mode Mode, logger *slog.Logger, inits []InitFunc) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{plugins: make(map[string]Plugin), logger: logger}

	for _, init := range inits {
		p, err := init(ctx)
		if err != nil {
			if mode == ModeStrict {
				return nil, fmt.Errorf("%w: %v", domain.ErrPluginInitFailed, err)
			}
			r.logger.Error("plugin init failed, skipping", slog.Any("error", err))
			continue
		}
		if _, exists := r.plugins[p.Name]; exists {
			if mode == ModeStrict {
				return nil, fmt.Errorf("%w: %s", domain.ErrPluginExists, p.Name)
			}
			r.logger.Error("duplicate plugin name, skipping", slog.String("name", p.Name))
			continue
		}
		r.plugins[p.Name] = p
	}
	return r, nil
}

// Register adds or replaces a plugin. Caller must externally synchronize
// concurrent Register/Invoke calls per §4.9.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[p.Name] = p
}

// Unregister removes a plugin by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plugins, name)
}

// orderedForPhase returns the plugins with a hook at phase, sorted ascending
// by Order, with ties kept in plugin name order.
func (r *Registry) orderedForPhase(phase domain.Phase) []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, p := range r.plugins {
		if _, ok := p.Phases[phase]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names) // deterministic tie-break base, overridden by stable Order sort below

	matched := make([]Plugin, len(names))
	for i, n := range names {
		matched[i] = r.plugins[n]
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Order < matched[j].Order })
	return matched
}

// Invoke runs every plugin hook registered at phase, in order, threading the
// ExecutionToken through each. A hook error aborts remaining hooks at this
// phase and is returned to the caller.
func (r *Registry) Invoke(ctx context.Context, phase domain.Phase, token domain.ExecutionToken) (domain.ExecutionToken, error) {
	for _, p := range r.orderedForPhase(phase) {
		hook := p.Phases[phase]
		next, err := hook(ctx, token)
		if err != nil {
			return token, fmt.Errorf("plugin %q at phase %s: %w", p.Name, phase, err)
		}
		token = next
	}
	return token, nil
}

// Names returns the currently registered plugin names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for n := range r.plugins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
