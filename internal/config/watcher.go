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

// ReloadFunc receives the freshly loaded config and the hot-reloadable
// changes relative to the previous one. The watcher only invokes it when the
// diff is non-empty.
type ReloadFunc func(cfg *Config, diff ConfigDiff)

// Watcher polls a config file and applies hot-reloadable changes while
// recordings are in flight. Quality thresholds, analysis tuning, feedback
// settings, and the log level take effect immediately; everything else
// (listen address, providers, capture limits, storage) only logs a warning
// because it needs a restart.
type Watcher struct {
	path     string
	interval time.Duration
	reload   ReloadFunc

	mu      sync.Mutex
	current *Config
	modTime time.Time
	sum     [sha256.Size]byte

	stop chan struct{}
	done chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithInterval overrides the default 10s poll interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = d }
}

// NewWatcher loads path, starts polling it, and calls reload whenever a
// well-formed edit changes a hot-reloadable field. Files that fail to parse
// or validate are rejected and the previous config stays active.
func NewWatcher(path string, reload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	w := &Watcher{
		path:     path,
		interval: 10 * time.Second,
		reload:   reload,
		current:  cfg,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if info, err := os.Stat(path); err == nil {
		w.modTime = info.ModTime()
	}
	if data, err := os.ReadFile(path); err == nil {
		w.sum = sha256.Sum256(data)
	}

	go w.loop()
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop terminates the watcher and waits for the poll loop to exit.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config file unreadable, keeping active config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.modTime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		slog.Warn("config file unreadable, keeping active config", "path", w.path, "err", err)
		return
	}
	sum := sha256.Sum256(data)

	w.mu.Lock()
	sameContent := sum == w.sum
	w.modTime = info.ModTime()
	w.mu.Unlock()
	if sameContent {
		return
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		slog.Error("rejected config edit, keeping active config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.sum = sum
	w.mu.Unlock()

	w.warnRestartOnly(old, cfg)

	diff := Diff(old, cfg)
	if !diff.HasChanges() {
		return
	}
	slog.Info("config reloaded",
		"path", w.path,
		"quality", diff.QualityChanged,
		"analysis", diff.AnalysisChanged,
		"feedback", diff.FeedbackChanged,
		"log_level", diff.LogLevelChanged,
	)
	if w.reload != nil {
		w.reload(cfg, diff)
	}
}

// warnRestartOnly flags edits the running process cannot pick up.
func (w *Watcher) warnRestartOnly(old, new *Config) {
	if old.Server.ListenAddr != new.Server.ListenAddr {
		slog.Warn("listen address change requires a restart",
			"active", old.Server.ListenAddr, "configured", new.Server.ListenAddr)
	}
	if old.Storage != new.Storage {
		slog.Warn("storage change requires a restart",
			"active", old.Storage.Backend, "configured", new.Storage.Backend)
	}
	if captureChanged(&old.Capture, &new.Capture) {
		slog.Warn("capture limit change requires a restart")
	}
}

// captureChanged compares field by field; CaptureConfig holds a pointer so
// it is not usefully comparable.
func captureChanged(old, new *CaptureConfig) bool {
	if old.TargetSampleRate != new.TargetSampleRate ||
		old.MaxDurationSeconds != new.MaxDurationSeconds ||
		old.QualityPollHz != new.QualityPollHz ||
		old.VisualizationHz != new.VisualizationHz ||
		old.UnclaimedRetentionSeconds != new.UnclaimedRetentionSeconds {
		return true
	}
	oldC := old.Compression == nil || *old.Compression
	newC := new.Compression == nil || *new.Compression
	return oldC != newC
}
