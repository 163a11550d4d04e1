// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ChangeKind classifies a filesystem change.
type ChangeKind uint8

const (
	ChangeWrite ChangeKind = iota
	ChangeCreate
	ChangeRemove
	ChangeRename
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeWrite:
		return "write"
	case ChangeCreate:
		return "create"
	case ChangeRemove:
		return "remove"
	case ChangeRename:
		return "rename"
	default:
		return "unknown"
	}
}

// ChangeEvent is one relevant filesystem change under the plugins root,
// attributed to the plugin whose directory contains the changed file.
type ChangeEvent struct {
	Plugin string
	Path   string
	Kind   ChangeKind
	At     time.Time
}

// WatcherConfig configures a plugins-root watcher.
type WatcherConfig struct {
	// Root is the plugins directory; each immediate subdirectory is one
	// plugin.
	Root string

	// Patterns are glob patterns matched against changed file base names.
	// Empty means watch everything.
	Patterns []string

	// Buffer sizes the event channel. Defaults to 64.
	Buffer int
}

// Watcher turns fsnotify events under the plugins root into attributed
// ChangeEvents. fsnotify is not recursive, so the watcher tracks the root
// and every plugin subdirectory, picking up new plugin directories as they
// appear.
type Watcher struct {
	cfg    WatcherConfig
	globs  []glob.Glob
	fsw    *fsnotify.Watcher
	events chan ChangeEvent

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewWatcher creates a watcher. Call Start to begin delivering events.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, oops.In("watcher").New("root directory is required")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}

	globs := make([]glob.Glob, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, oops.In("watcher").With("pattern", p).
				Hint("invalid glob pattern").Wrap(err)
		}
		globs = append(globs, g)
	}

	return &Watcher{
		cfg:    cfg,
		globs:  globs,
		events: make(chan ChangeEvent, cfg.Buffer),
		done:   make(chan struct{}),
	}, nil
}

// Start begins watching. Adding the root retries with fibonacci backoff so
// a root created moments after startup is still picked up.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return oops.In("watcher").Wrap(err)
	}
	w.fsw = fsw

	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(100*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fsw.Add(w.cfg.Root); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = fsw.Close()
		return oops.In("watcher").With("root", w.cfg.Root).
			Hint("plugins root not watchable").Wrap(err)
	}

	// Existing plugin directories.
	entries, err := os.ReadDir(w.cfg.Root)
	if err != nil {
		_ = fsw.Close()
		return oops.In("watcher").With("root", w.cfg.Root).Wrap(err)
	}
	for _, e := range entries {
		if e.IsDir() {
			w.addDir(filepath.Join(w.cfg.Root, e.Name()))
		}
	}

	w.wg.Add(1)
	go w.run()
	slog.Info("plugin watcher started", "root", w.cfg.Root, "patterns", w.cfg.Patterns)
	return nil
}

// Events returns the change channel. Closed when the watcher stops.
func (w *Watcher) Events() <-chan ChangeEvent { return w.events }

// Close stops the watcher and closes the event channel.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		if w.fsw != nil {
			err = w.fsw.Close()
		}
		w.wg.Wait()
		close(w.events)
	})
	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	// A new plugin directory needs its own watch.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if filepath.Dir(ev.Name) == filepath.Clean(w.cfg.Root) {
				w.addDir(ev.Name)
			}
			return
		}
	}

	plugin, ok := w.pluginFor(ev.Name)
	if !ok || !w.matches(filepath.Base(ev.Name)) {
		return
	}

	var kind ChangeKind
	switch {
	case ev.Op.Has(fsnotify.Remove):
		kind = ChangeRemove
	case ev.Op.Has(fsnotify.Rename):
		kind = ChangeRename
	case ev.Op.Has(fsnotify.Create):
		kind = ChangeCreate
	case ev.Op.Has(fsnotify.Write):
		kind = ChangeWrite
	default:
		return
	}

	change := ChangeEvent{
		Plugin: plugin,
		Path:   ev.Name,
		Kind:   kind,
		At:     time.Now(),
	}
	select {
	case w.events <- change:
	case <-w.done:
	default:
		slog.Warn("watcher event dropped, channel full",
			"plugin", plugin, "path", ev.Name)
	}
}

func (w *Watcher) addDir(dir string) {
	if err := w.fsw.Add(dir); err != nil {
		slog.Warn("failed to watch plugin directory", "dir", dir, "error", err)
		return
	}
	slog.Debug("watching plugin directory", "dir", dir)
}

// pluginFor maps a changed path to the plugin owning it: the first path
// segment under the root.
func (w *Watcher) pluginFor(path string) (string, bool) {
	rel, err := filepath.Rel(w.cfg.Root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
	if len(parts) < 2 {
		// File directly under the root belongs to no plugin.
		return "", false
	}
	return parts[0], true
}

func (w *Watcher) matches(base string) bool {
	if len(w.globs) == 0 {
		return true
	}
	for _, g := range w.globs {
		if g.Match(base) {
			return true
		}
	}
	return false
}
