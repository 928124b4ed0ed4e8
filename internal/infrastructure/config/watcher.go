package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the configuration when any config file changes. Only
// non-structural settings take effect mid-session; listeners decide what to
// apply.
type Watcher struct {
	mu        sync.Mutex
	current   *Config
	listeners []func(*Config)
	watcher   *fsnotify.Watcher
	logger    *zap.Logger
	done      chan struct{}
}

// NewWatcher starts watching the config file locations.
func NewWatcher(initial *Config, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		current: initial,
		watcher: fw,
		logger:  logger,
		done:    make(chan struct{}),
	}

	home, _ := os.UserHomeDir()
	for _, dir := range []string{filepath.Join(home, ".vtcode"), "./.vtcode", "."} {
		if _, err := os.Stat(dir); err == nil {
			_ = fw.Add(dir)
		}
	}

	go w.loop()
	return w, nil
}

// Current returns the latest configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// OnReload registers a listener invoked after each successful reload.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	// Debounce bursts of events: editors write config files several times.
	var pending <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != "config.yaml" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load()
	if err != nil {
		w.logger.Warn("Config reload failed; keeping previous config", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = cfg
	listeners := make([]func(*Config), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	w.logger.Info("Configuration reloaded")
	for _, fn := range listeners {
		fn(cfg)
	}
}
