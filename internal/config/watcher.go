package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the config file.
const DefaultWatchInterval = 5 * time.Second

// snapshot is one successfully parsed version of the file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

func readSnapshot(path string) (snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}

// Watcher hot-reloads the config file. A change is detected by modification
// time and confirmed by content hash, so touching the file is not a change.
// An edit that fails to parse or validate is logged and ignored.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config, d ConfigDiff)

	mu       sync.Mutex
	last     snapshot
	rejected time.Time // mtime of the last edit that failed to load
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides [DefaultWatchInterval]. Non-positive values are
// ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and fails if it is not a valid config. onChange,
// if non-nil, is called from [Watcher.Check] for every accepted change.
func NewWatcher(path string, onChange func(old, new *Config, d ConfigDiff), opts ...WatcherOption) (*Watcher, error) {
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	w := &Watcher{path: path, interval: DefaultWatchInterval, onChange: onChange, last: snap}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Current returns the last accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.cfg
}

// Run calls [Watcher.Check] every interval until ctx is done. It returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.Check()
		}
	}
}

// Check reloads the file when it changed and reports whether a new config
// was accepted.
func (w *Watcher) Check() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: cannot stat watched file", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	seen := info.ModTime().Equal(w.last.mtime) || info.ModTime().Equal(w.rejected)
	w.mu.Unlock()
	if seen {
		return false
	}

	next, err := readSnapshot(w.path)
	if err != nil {
		slog.Warn("config: reload rejected, keeping current config", "path", w.path, "err", err)
		w.mu.Lock()
		w.rejected = info.ModTime()
		w.mu.Unlock()
		return false
	}

	w.mu.Lock()
	prev := w.last
	w.last = next
	w.mu.Unlock()
	if next.sum == prev.sum {
		return false
	}

	d := Diff(prev.cfg, next.cfg)
	slog.Info("config: reloaded", "path", w.path, "restart_required", d.RestartRequired)
	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg, d)
	}
	return true
}
