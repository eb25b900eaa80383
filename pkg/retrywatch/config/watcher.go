// Package config – watcher.go polls the config file for changes and triggers
// hot-reload of safe-to-update fields without restarting the daemon.
package config

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"os"
	"time"
)

// Watcher monitors a config file for changes and invokes a callback when the
// file is modified. Uses polling (mtime + sha256) to avoid platform-specific
// file watchers.
type Watcher struct {
	path     string
	lastMod  time.Time
	lastHash [32]byte
	interval time.Duration
	onChange func(newCfg *Config)
	logger   *slog.Logger
}

// NewWatcher creates a config watcher. interval is the polling interval;
// onChange runs whenever a valid config change is detected.
func NewWatcher(path string, interval time.Duration, onChange func(*Config), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		path:     path,
		interval: interval,
		onChange: onChange,
		logger:   logger.With("component", "config_watcher"),
	}
}

// Start begins polling. Exits when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	// Initial check sets the baseline so the first tick does not fire onChange.
	w.check()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped")
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reads the config file, compares mtime and hash, and calls onChange
// if the content actually changed.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		// File may not exist yet or be temporarily unavailable.
		return
	}

	mod := info.ModTime()
	if !mod.After(w.lastMod) && !w.lastMod.IsZero() {
		return
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("config watcher: failed to read file", "error", err)
		return
	}

	hash := sha256.Sum256(data)
	// Same hash = no actual change (e.g. touch without edit).
	if hash == w.lastHash {
		w.lastMod = mod
		return
	}

	// First run: set baseline without triggering onChange.
	var zeroHash [32]byte
	if w.lastHash == zeroHash {
		w.lastMod = mod
		w.lastHash = hash
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config watcher: invalid config, skipping hot-reload", "error", err)
		return
	}

	w.lastMod = mod
	w.lastHash = hash

	w.logger.Info("config file changed, applying hot-reload")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
