package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors produce on save.
const reloadDebounce = 250 * time.Millisecond

// LoadDefinitions reads and decodes a driver definitions file.
func LoadDefinitions(path string) ([]Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("reading driver definitions: %w", err)
	}
	return DecodeDefinitions(data)
}

// Watcher reapplies the definitions file to a Manager whenever it changes.
type Watcher struct {
	path    string
	manager *Manager
	logger  Logger
	watcher *fsnotify.Watcher

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	reloads  chan struct{}
}

// NewWatcher watches the directory of path, so editors that replace the
// file by rename are followed.
func NewWatcher(path string, m *Manager, logger Logger) (*Watcher, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close() //nolint:errcheck // error path
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:    abs,
		manager: m,
		logger:  logger,
		watcher: fw,
		reloads: make(chan struct{}, 1),
	}, nil
}

// Reloads delivers a value after every reload attempt. Used by tests.
func (w *Watcher) Reloads() <-chan struct{} { return w.reloads }

// Start begins watching.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop ends watching and closes the underlying watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		w.watcher.Close() //nolint:errcheck // shutdown
		w.wg.Wait()
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				debounce = time.After(reloadDebounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("driver definitions watcher error", "error", err)
		case <-debounce:
			debounce = nil
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	defer func() {
		select {
		case w.reloads <- struct{}{}:
		default:
		}
	}()

	cfgs, err := LoadDefinitions(w.path)
	if err != nil {
		// Keep running the previous definitions.
		w.logger.Error("driver definitions rejected", "path", w.path, "error", err)
		return
	}
	if err := w.manager.Apply(ctx, cfgs); err != nil {
		w.logger.Error("driver definitions partly applied", "path", w.path, "error", err)
		return
	}
	w.logger.Info("driver definitions reloaded", "path", w.path, "instances", len(cfgs))
}
