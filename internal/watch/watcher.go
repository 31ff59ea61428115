// SPDX-License-Identifier: MPL-2.0

// Package watch rebuilds a module when its source tree changes. Filesystem
// events are coalesced over a quiet period and handed to a single rebuild
// callback; changes that arrive while a rebuild runs queue exactly one more.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period used when Config.Debounce is unset.
const DefaultDebounce = 300 * time.Millisecond

// builtinIgnores never trigger a rebuild. Package archives and the staging
// files written next to them are listed so that a build writing into the
// source tree does not retrigger itself.
var builtinIgnores = []string{
	".git",
	".git/**",
	"**/*.spkg",
	"**/.*.tmp-*",
	"**/.channel-*.toml",
	"**/*.swp",
	"**/*~",
	"**/.DS_Store",
}

var errAlreadyRunning = errors.New("watch: Run called more than once")

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// Dir is the source tree to watch.
		Dir string
		// Ignore lists extra doublestar patterns, relative to Dir.
		Ignore []string
		// Debounce is the quiet period after the last event before
		// OnChange runs. Zero means DefaultDebounce.
		Debounce time.Duration
		Logger   *log.Logger
		// OnChange receives the sorted changed paths relative to Dir. Its
		// error is logged and watching continues.
		OnChange func(ctx context.Context, changed []string) error
	}

	// Watcher watches one source tree.
	Watcher struct {
		cfg     Config
		dir     string
		ignores []string
		logger  *log.Logger
		fsw     *fsnotify.Watcher
		started atomic.Bool

		mu      sync.Mutex
		pending map[string]struct{}
	}
)

// New validates cfg and registers every directory under cfg.Dir that is not
// ignored.
func New(cfg Config) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("watch: no directory given")
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve directory: %w", err)
	}
	for _, p := range cfg.Ignore {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("watch: invalid ignore pattern %q", p)
		}
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}
	w := &Watcher{
		cfg:     cfg,
		dir:     dir,
		ignores: append(slices.Clone(builtinIgnores), cfg.Ignore...),
		logger:  logger,
		fsw:     fsw,
		pending: make(map[string]struct{}),
	}
	if err := w.addTree(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run processes events until ctx is done. It returns nil on cancellation and
// an error when the underlying watcher breaks.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer func() {
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("closing watcher", "err", err)
		}
	}()

	kick := make(chan struct{}, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.rebuildLoop(ctx, kick)
	}()
	defer wg.Wait()

	timer := time.NewTimer(w.cfg.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: event channel closed")
			}
			rel, ok := w.relevant(evt)
			if !ok {
				continue
			}
			w.mu.Lock()
			w.pending[rel] = struct{}{}
			w.mu.Unlock()
			timer.Reset(w.cfg.Debounce)

		case <-timer.C:
			select {
			case kick <- struct{}{}:
			default:
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: error channel closed")
			}
			if isFatal(err) {
				return fmt.Errorf("watch: %w", err)
			}
			w.logger.Warn("watch error", "err", err)
		}
	}
}

// rebuildLoop runs OnChange once per kick. A kick received while OnChange
// runs is held in the channel buffer, so the next rebuild sees every change
// made during the current one.
func (w *Watcher) rebuildLoop(ctx context.Context, kick <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-kick:
		}
		w.mu.Lock()
		changed := slices.Sorted(maps.Keys(w.pending))
		clear(w.pending)
		w.mu.Unlock()
		if len(changed) == 0 || w.cfg.OnChange == nil {
			continue
		}
		w.logger.Info("change detected", "files", len(changed), "first", changed[0])
		if err := w.cfg.OnChange(ctx, changed); err != nil && ctx.Err() == nil {
			w.logger.Error("rebuild failed", "err", err)
		}
	}
}

// relevant maps an event to its path relative to the watched directory and
// reports whether it should trigger a rebuild. New directories are added to
// the watch as a side effect.
func (w *Watcher) relevant(evt fsnotify.Event) (string, bool) {
	if evt.Op == fsnotify.Chmod {
		return "", false
	}
	rel, err := filepath.Rel(w.dir, evt.Name)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if w.ignored(rel) {
		return "", false
	}
	if evt.Has(fsnotify.Create) {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			if err := w.addTree(evt.Name); err != nil {
				w.logger.Warn("cannot watch new directory", "dir", rel, "err", err)
			}
		}
	}
	return rel, true
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("skipping unreadable path", "path", path, "err", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.dir, path)
		if err != nil {
			return nil
		}
		if rel != "." && w.ignored(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) ignored(rel string) bool {
	for _, p := range w.ignores {
		if doublestar.MatchUnvalidated(p, rel) {
			return true
		}
	}
	return false
}
