// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/wardenhost/warden/internal/plugin/capability"
)

// RuntimeConfig configures the top-level plugin runtime.
type RuntimeConfig struct {
	// PluginsDir is the root directory scanned for plugins; each
	// immediate subdirectory containing a plugin.yaml is one plugin.
	PluginsDir string

	// HostAPI is the API version this host implements.
	HostAPI APIVersion

	// DefaultProfile names the capability profile granted to plugins
	// loaded without an explicit grant. Defaults to "safe".
	DefaultProfile string

	// MaxPlugins caps registry size; zero means unlimited.
	MaxPlugins int

	// AllowOverwrite permits re-registering an existing name.
	AllowOverwrite bool

	// CallTimeout bounds each plugin call made through the runtime. Zero
	// leaves calls bounded only by the caller's context.
	CallTimeout time.Duration

	// Watch enables hot reload on filesystem changes under PluginsDir.
	Watch bool

	// WatchPatterns filters watched file names. Defaults to plugin
	// manifests and Lua files.
	WatchPatterns []string

	// Controller tunes debounce, backoff, and the circuit breaker.
	Controller ControllerConfig
}

// Runtime is the host-facing facade: it loads plugins from disk or memory,
// routes calls, and drives hot reload.
type Runtime struct {
	cfg RuntimeConfig
	reg *Registry
	ctl *Controller

	mu      sync.Mutex
	watcher *Watcher
	runDone chan struct{}
}

// NewRuntime assembles a runtime around an engine factory.
func NewRuntime(cfg RuntimeConfig, factory EngineFactory) *Runtime {
	if cfg.DefaultProfile == "" {
		cfg.DefaultProfile = "safe"
	}
	if len(cfg.WatchPatterns) == 0 {
		cfg.WatchPatterns = []string{ManifestFileName, "*.lua"}
	}

	reg := NewRegistry(RegistryConfig{
		HostAPI:        cfg.HostAPI,
		Factory:        factory,
		MaxPlugins:     cfg.MaxPlugins,
		AllowOverwrite: cfg.AllowOverwrite,
	})
	return &Runtime{
		cfg: cfg,
		reg: reg,
		ctl: NewController(reg, cfg.Controller),
	}
}

// DefaultGrant returns the capability set granted when a load call passes
// none.
func (rt *Runtime) DefaultGrant() capability.Set {
	if s, ok := capability.Profile(rt.cfg.DefaultProfile); ok {
		return s
	}
	return capability.SafeDefaults()
}

// LoadDir loads every plugin directory under the configured root. A plugin
// failing to load is logged and skipped; the rest still load.
func (rt *Runtime) LoadDir(ctx context.Context) error {
	entries, err := os.ReadDir(rt.cfg.PluginsDir)
	if err != nil {
		return oops.In("runtime").With("dir", rt.cfg.PluginsDir).Wrap(err)
	}

	loaded := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(rt.cfg.PluginsDir, e.Name())
		if _, err := os.Stat(filepath.Join(dir, ManifestFileName)); err != nil {
			continue
		}
		if _, err := rt.LoadManifestFile(ctx, dir, rt.DefaultGrant()); err != nil {
			slog.Error("plugin failed to load", "dir", dir, "error", err)
			continue
		}
		loaded++
	}
	slog.Info("plugin directory scanned",
		"dir", rt.cfg.PluginsDir, "loaded", loaded)
	return nil
}

// LoadManifestFile loads the plugin in dir, reading plugin.yaml and the
// declared entry point, and registers it with the given grant. Plugins
// loaded this way are reloadable.
func (rt *Runtime) LoadManifestFile(ctx context.Context, dir string, granted capability.Set) (*Handle, error) {
	m, source, bytecode, err := readUnit(dir)
	if err != nil {
		return nil, err
	}
	return rt.reg.Register(ctx, RegisterRequest{
		Manifest: m,
		Dir:      dir,
		Source:   source,
		Bytecode: bytecode,
		Granted:  granted,
	})
}

// LoadSource registers an in-memory source plugin. Not reloadable.
func (rt *Runtime) LoadSource(ctx context.Context, m *Manifest, source []byte, granted capability.Set) (*Handle, error) {
	return rt.reg.Register(ctx, RegisterRequest{
		Manifest: m,
		Source:   source,
		Granted:  granted,
	})
}

// LoadBytecode registers an in-memory bytecode plugin. Not reloadable.
func (rt *Runtime) LoadBytecode(ctx context.Context, m *Manifest, bytecode []byte, granted capability.Set) (*Handle, error) {
	return rt.reg.Register(ctx, RegisterRequest{
		Manifest: m,
		Bytecode: bytecode,
		Granted:  granted,
	})
}

// Call invokes an exported function on a running plugin, bounded by the
// configured call timeout.
func (rt *Runtime) Call(ctx context.Context, name, fn string, args []any) (any, error) {
	h, err := rt.reg.Get(name)
	if err != nil {
		return nil, err
	}
	if rt.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.cfg.CallTimeout)
		defer cancel()
	}
	return h.Call(ctx, fn, args)
}

// Get returns the current handle for name.
func (rt *Runtime) Get(name string) (*Handle, error) { return rt.reg.Get(name) }

// List returns all current handles.
func (rt *Runtime) List() []*Handle { return rt.reg.List() }

// Names returns registered plugin names in sorted order.
func (rt *Runtime) Names() []string { return rt.reg.Names() }

// Unregister removes a plugin and cancels any pending reload work for it.
func (rt *Runtime) Unregister(ctx context.Context, name string) error {
	rt.ctl.Cancel(name)
	return rt.reg.Unregister(ctx, name)
}

// Reload forces an immediate reload, bypassing debounce and backoff.
func (rt *Runtime) Reload(ctx context.Context, name string) (*Handle, error) {
	return rt.reg.Reload(ctx, name)
}

// OnTransition registers a lifecycle observer.
func (rt *Runtime) OnTransition(hook TransitionHook) { rt.reg.OnTransition(hook) }

// OnReload registers a reload outcome observer.
func (rt *Runtime) OnReload(hook ReloadHook) { rt.ctl.OnReload(hook) }

// Start begins watching for plugin changes when watching is enabled.
func (rt *Runtime) Start(ctx context.Context) error {
	if !rt.cfg.Watch {
		return nil
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.watcher != nil {
		return nil
	}

	w, err := NewWatcher(WatcherConfig{
		Root:     rt.cfg.PluginsDir,
		Patterns: rt.cfg.WatchPatterns,
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	rt.watcher = w
	rt.runDone = make(chan struct{})

	go func() {
		defer close(rt.runDone)
		rt.ctl.Run(ctx, w.Events())
	}()
	return nil
}

// Shutdown stops the watcher and controller, then stops and cleans up
// every plugin.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.mu.Lock()
	w := rt.watcher
	done := rt.runDone
	rt.watcher = nil
	rt.runDone = nil
	rt.mu.Unlock()

	if w != nil {
		_ = w.Close()
		<-done
	}
	rt.ctl.Close()

	var firstErr error
	for _, name := range rt.reg.Names() {
		if err := rt.reg.Unregister(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	slog.Info("plugin runtime stopped")
	return firstErr
}
