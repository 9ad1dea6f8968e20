package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls its file.
const DefaultWatchInterval = 5 * time.Second

// ReloadFunc receives the previous and the newly loaded config.
type ReloadFunc func(old, updated *Config)

// Watcher polls a config file and hands hot-reloadable changes (personas and
// log level) to a [ReloadFunc]. Edits to startup-only sections are logged
// with a restart hint and otherwise ignored. Invalid files keep the last good
// config.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc

	mu      sync.Mutex
	current *Config
	state   fileState

	done     chan struct{}
	stopOnce sync.Once
}

// fileState identifies one version of the watched file.
type fileState struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onReload may be nil.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.state = cfg, st

	go w.loop()
	return w, nil
}

// Current returns the last valid config read from the file.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.state.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, st, err := w.read()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if st.sum == w.state.sum {
		w.state.mtime = st.mtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.state = cfg, st
	w.mu.Unlock()

	d := Diff(old, cfg)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config watcher: changes need a restart", "sections", d.RestartRequired)
	}
	if !d.HotReloadable() {
		return
	}
	slog.Info("config watcher: applying changes",
		"personas_changed", len(d.PersonaChanges), "log_level_changed", d.LogLevelChanged)

	// Called without the lock so onReload may use Current.
	if w.onReload != nil {
		w.onReload(old, cfg)
	}
}

// read loads and validates the file.
func (w *Watcher) read() (*Config, fileState, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
