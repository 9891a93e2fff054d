// Package hotreload watches a config file for writes and invokes a callback
// with the freshly-loaded configuration, so safe-to-change fields
// (resilience thresholds, cache TTLs) can be picked up without a restart
// (SPEC_FULL.md §6). Fields that are not safe to change at runtime (store
// DSN, listen ports) are read once at startup by the caller and never
// re-applied by this watcher.
package hotreload

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ycagentic/escrow-orchestrator/internal/config"
)

// Watcher polls fsnotify events for one config file and forwards every
// successfully-reloaded config to OnReload.
type Watcher struct {
	path     string
	OnReload func(*config.Config)
	logger   *zap.Logger
}

// New builds a Watcher over the file at path.
func New(path string, onReload func(*config.Config), logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{path: path, OnReload: onReload, logger: logger}
}

// Run blocks watching w.path until ctx is cancelled. A write or create event
// triggers a reload attempt; an editor's atomic rename-over-path (vim,
// ConfigMap projected volumes) re-adds the watch on the new inode.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
			_ = watcher.Add(w.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := config.Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous configuration", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("config reloaded", zap.String("path", w.path))
	w.OnReload(cfg)
}
