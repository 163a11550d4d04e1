// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package plugin

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/wardenhost/warden/internal/plugin/capability"
)

// ManifestFileName is the manifest file expected in each plugin directory.
const ManifestFileName = "plugin.yaml"

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// HostAPI is the API version this host implements. Plugins built
	// against an incompatible version are rejected at registration.
	HostAPI APIVersion

	// Factory compiles plugin units into engines.
	Factory EngineFactory

	// MaxPlugins caps the number of registered plugins. Zero means
	// unlimited.
	MaxPlugins int

	// AllowOverwrite permits registering a name that already exists,
	// replacing the previous plugin. Off by default.
	AllowOverwrite bool
}

// RegisterRequest carries one plugin unit into the registry.
type RegisterRequest struct {
	Manifest *Manifest

	// Dir is the plugin's directory. When set, reloads re-read the
	// manifest and entry point from it. Empty for in-memory plugins,
	// which are not reloadable.
	Dir string

	// Source and Bytecode mirror the manifest's entry point declaration;
	// exactly one must be set, matching the manifest.
	Source   []byte
	Bytecode []byte

	// Granted is the capability set the host grants. Reloads can never
	// escalate beyond it.
	Granted capability.Set
}

// slot holds one plugin name's current handle. The mutex serializes
// mutations (register, reload, unregister) per name; the atomic pointer is
// the single point readers observe, so a swap is all-or-nothing.
type slot struct {
	mu     sync.Mutex
	handle atomic.Pointer[Handle]
}

// Registry is the concurrent plugin store. Lookups never block behind
// reloads: readers always see either the old handle or the new one,
// never partial state.
type Registry struct {
	cfg  RegistryConfig
	gate *capability.Gate

	mu    sync.RWMutex
	slots map[string]*slot

	hooks *transitionHooks
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		cfg:   cfg,
		gate:  capability.NewGate(),
		slots: make(map[string]*slot),
		hooks: &transitionHooks{},
	}
}

// OnTransition registers a hook fired synchronously after every lifecycle
// state change, in registration order.
func (r *Registry) OnTransition(hook TransitionHook) {
	r.hooks.add(hook)
}

// Register validates, compiles, and starts a plugin, making it visible to
// callers only once fully Running. All-or-nothing: any failure leaves the
// registry unchanged.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*Handle, error) {
	m := req.Manifest
	if m == nil {
		return nil, oops.In("registry").New("manifest is required")
	}
	errb := oops.In("registry").With("plugin", m.Name)

	if err := m.Validate(); err != nil {
		return nil, err
	}
	if !r.cfg.HostAPI.Compatible(m.APIVersion) {
		return nil, errb.Code(CodeIncompatibleAPIVersion).
			With("host", r.cfg.HostAPI.String()).
			With("plugin_api", m.APIVersion.String()).
			New("plugin API version is incompatible with this host")
	}
	if err := r.gate.Validate(m.Name, m.Capabilities, req.Granted); err != nil {
		r.countDenied(m.Name, err)
		return nil, err
	}

	s, err := r.lockSlot(m.Name)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	old := s.handle.Load()
	if old != nil && !r.cfg.AllowOverwrite {
		return nil, errb.Wrap(ErrDuplicateName)
	}

	h, err := r.build(ctx, m, req.Dir, req.Source, req.Bytecode, req.Granted, 1)
	if err != nil {
		if old == nil {
			r.dropSlot(m.Name)
		}
		return nil, err
	}

	s.handle.Store(h)
	if old != nil {
		r.retire(ctx, old)
	} else {
		metricRegistered.Inc()
	}

	slog.Info("plugin registered",
		"plugin", m.Name,
		"version", m.Version,
		"capabilities", req.Granted.Names())
	return h, nil
}

// lockSlot claims the slot for name and acquires its mutex. The claim is
// re-verified after the lock: a failed registration or an unregister may
// drop the slot from the map while a claimant waits, and storing into an
// orphaned slot would make the plugin unreachable.
func (r *Registry) lockSlot(name string) (*slot, error) {
	for {
		s, err := r.claimSlot(name)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()

		r.mu.RLock()
		current := r.slots[name] == s
		r.mu.RUnlock()
		if current {
			return s, nil
		}
		s.mu.Unlock()
	}
}

// claimSlot returns the slot for name, creating it if absent and the
// capacity allows.
func (r *Registry) claimSlot(name string) (*slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.slots[name]; ok {
		return s, nil
	}
	if r.cfg.MaxPlugins > 0 && len(r.slots) >= r.cfg.MaxPlugins {
		return nil, oops.In("registry").With("plugin", name).
			With("max", r.cfg.MaxPlugins).Wrap(ErrCapacityExceeded)
	}
	s := &slot{}
	r.slots[name] = s
	return s, nil
}

// dropSlot removes an empty slot created by a failed first registration.
func (r *Registry) dropSlot(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.slots[name]; ok && s.handle.Load() == nil {
		delete(r.slots, name)
	}
}

// build compiles and starts a new handle generation.
func (r *Registry) build(ctx context.Context, m *Manifest, dir string, source, bytecode []byte, granted capability.Set, version uint64) (*Handle, error) {
	engine, err := r.cfg.Factory.Compile(ctx, CompileRequest{
		Plugin:   m.Name,
		Source:   source,
		Bytecode: bytecode,
		Granted:  granted,
		Exports:  m.Exports,
	})
	if err != nil {
		return nil, oops.In("registry").With("plugin", m.Name).
			Code(CodeEngineCompile).Wrap(err)
	}

	h := newHandle(m.Name, m, granted, engine, dir, version, r.hooks)
	if err := h.Init(ctx); err != nil {
		_ = engine.Close()
		return nil, err
	}
	if err := h.Start(ctx); err != nil {
		_ = engine.Close()
		return nil, err
	}
	return h, nil
}

// Get returns the current handle for name.
func (r *Registry) Get(name string) (*Handle, error) {
	r.mu.RLock()
	s, ok := r.slots[name]
	r.mu.RUnlock()
	if !ok {
		return nil, oops.In("registry").With("plugin", name).Wrap(ErrNotFound)
	}
	h := s.handle.Load()
	if h == nil {
		return nil, oops.In("registry").With("plugin", name).Wrap(ErrNotFound)
	}
	return h, nil
}

// List returns the current handles of all registered plugins.
func (r *Registry) List() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, 0, len(r.slots))
	for _, s := range r.slots {
		if h := s.handle.Load(); h != nil {
			out = append(out, h)
		}
	}
	return out
}

// Names returns registered plugin names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.slots))
	for name, s := range r.slots {
		if s.handle.Load() != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Unregister stops and removes a plugin. Safe to call concurrently with
// lookups; callers holding the old handle can finish their in-flight calls.
func (r *Registry) Unregister(ctx context.Context, name string) error {
	r.mu.Lock()
	s, ok := r.slots[name]
	if ok {
		delete(r.slots, name)
	}
	r.mu.Unlock()
	if !ok {
		return oops.In("registry").With("plugin", name).Wrap(ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handle.Swap(nil)
	if h == nil {
		return oops.In("registry").With("plugin", name).Wrap(ErrNotFound)
	}
	r.retire(ctx, h)
	metricRegistered.Dec()
	slog.Info("plugin unregistered", "plugin", name)
	return nil
}

// retire stops and cleans up a replaced or removed handle.
func (r *Registry) retire(ctx context.Context, h *Handle) {
	if h.State() == StateRunning {
		_ = h.Stop(ctx)
	}
	h.Cleanup(ctx)
}

// Reload re-reads the plugin's manifest and unit from disk and swaps in a
// new generation. The reload is all-or-nothing: any failure leaves the old
// handle in place and servable. Capability escalation is impossible; the
// re-read manifest is gated against the set granted at first registration.
func (r *Registry) Reload(ctx context.Context, name string) (*Handle, error) {
	r.mu.RLock()
	s, ok := r.slots[name]
	r.mu.RUnlock()
	if !ok {
		return nil, oops.In("registry").With("plugin", name).Wrap(ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.handle.Load()
	if old == nil {
		return nil, oops.In("registry").With("plugin", name).Wrap(ErrNotFound)
	}
	if old.Dir() == "" {
		return nil, oops.In("registry").With("plugin", name).
			New("in-memory plugin is not reloadable")
	}

	start := time.Now()
	m, source, bytecode, err := readUnit(old.Dir())
	if err != nil {
		return nil, err
	}
	if m.Name != name {
		return nil, oops.In("registry").With("plugin", name).
			Code(CodeInvalidManifest).With("manifest_name", m.Name).
			New("manifest name changed on disk; unregister and register instead")
	}
	if !r.cfg.HostAPI.Compatible(m.APIVersion) {
		return nil, oops.In("registry").With("plugin", name).
			Code(CodeIncompatibleAPIVersion).
			With("host", r.cfg.HostAPI.String()).
			With("plugin_api", m.APIVersion.String()).
			New("plugin API version is incompatible with this host")
	}
	if err := r.gate.Validate(name, m.Capabilities, old.Granted()); err != nil {
		r.countDenied(name, err)
		return nil, err
	}

	snapshot, snapErr := old.Snapshot(ctx)
	if snapErr != nil {
		slog.Warn("state snapshot failed, reloading without state",
			"plugin", name, "error", snapErr)
		snapshot = nil
	}

	h, err := r.build(ctx, m, old.Dir(), source, bytecode, old.Granted(), old.Version()+1)
	if err != nil {
		metricReloads.WithLabelValues(name, "failure").Inc()
		return nil, err
	}

	if err := h.Restore(ctx, snapshot); err != nil {
		slog.Warn("state restore failed, continuing with fresh state",
			"plugin", name, "error", err)
	}

	s.handle.Store(h)
	r.retire(ctx, old)

	metricReloads.WithLabelValues(name, "success").Inc()
	metricReloadDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	slog.Info("plugin reloaded",
		"plugin", name,
		"version", m.Version,
		"generation", h.Version(),
		"duration", time.Since(start))
	return h, nil
}

// readUnit reads the manifest and entry point bytes from a plugin
// directory.
func readUnit(dir string) (*Manifest, []byte, []byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return nil, nil, nil, oops.In("registry").With("dir", dir).
			Code(CodeManifestParse).Hint("manifest unreadable").Wrap(err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, nil, nil, err
	}

	unit, err := os.ReadFile(filepath.Join(dir, m.EntryPoint()))
	if err != nil {
		return nil, nil, nil, oops.In("registry").With("plugin", m.Name).
			With("entry", m.EntryPoint()).Hint("entry point unreadable").Wrap(err)
	}
	if m.UsesSource() {
		return m, unit, nil, nil
	}
	return m, nil, unit, nil
}

func (r *Registry) countDenied(plugin string, err error) {
	var denied *capability.DeniedError
	if errors.As(err, &denied) {
		metricCapabilityDenied.WithLabelValues(plugin, denied.Capability.Name()).Inc()
	}
}
