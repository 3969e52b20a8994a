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

// DefaultWatchInterval is how often a [Watcher] stats its file.
const DefaultWatchInterval = 5 * time.Second

// snapshot is one successfully loaded version of the file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// Watcher keeps the latest valid version of a config file. It polls the
// file's mtime and can be told to reload explicitly (for example on SIGHUP).
// A file that fails to parse or validate is logged and ignored; the previous
// config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	lookup   LookupFunc
	log      *slog.Logger
	onChange func(old, new *Config)

	// reloadMu serialises reloads so onChange sees versions in order.
	reloadMu sync.Mutex
	mu       sync.Mutex
	last     snapshot

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values disable
// polling; only [Watcher.Reload] picks up changes then.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = d }
}

// WithEnv applies environment overrides from lookup on every load.
func WithEnv(lookup LookupFunc) WatcherOption {
	return func(w *Watcher) { w.lookup = lookup }
}

// WithWatchLogger sets the logger. Default: slog.Default().
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher loads the config at path and starts polling it. onChange runs
// on the reloading goroutine after a new version became current; it may be
// nil and may call [Watcher.Current].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = slog.Default()
	}
	w.log = w.log.With("path", path)

	snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.last = snap

	if w.interval > 0 {
		go w.poll()
	}
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.cfg
}

// Stop ends polling. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if !w.touched() {
				continue
			}
			if _, err := w.Reload(); err != nil {
				w.log.Warn("config watcher: keeping previous config", "err", err)
			}
		}
	}
}

// touched reports whether the file's mtime differs from the current
// version's. Stat errors count as touched so Reload reports them.
func (w *Watcher) touched() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return !info.ModTime().Equal(w.last.mtime)
}

// Reload reads the file now. It reports whether a new version became
// current. Content identical to the current version is not a change.
func (w *Watcher) Reload() (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	snap, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	old := w.last
	w.last.mtime = snap.mtime
	if snap.sum == old.sum {
		w.mu.Unlock()
		return false, nil
	}
	w.last = snap
	w.mu.Unlock()

	w.log.Info("config watcher: configuration reloaded")
	if w.onChange != nil {
		w.onChange(old.cfg, snap.cfg)
	}
	return true, nil
}

func (w *Watcher) read() (snapshot, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := load(bytes.NewReader(data), w.lookup)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
