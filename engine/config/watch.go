package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDelay coalesces the bursts of events editors produce while writing a file.
const reloadDelay = 100 * time.Millisecond

// Watch reloads a settings file whenever it changes and passes every valid result to onChange.
// Invalid edits are logged and skipped. The directory is watched so editors that replace the
// file by rename keep working. Watch blocks until ctx is done.
//
// Parameters:
//   - ctx: cancels the watch
//   - path: the settings file
//   - logger: receives reload failures
//   - onChange: called on the watch goroutine with each reloaded settings value
//
// Returns:
//   - error: an error if the watcher cannot be created
func Watch(ctx context.Context, path string, logger *zap.Logger, onChange func(Settings)) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(reloadDelay)
		case <-timer.C:
			s, err := Load(abs)
			if err != nil {
				logger.Error("settings reload failed", zap.String("path", abs), zap.Error(err))
				continue
			}
			logger.Info("settings reloaded", zap.String("path", abs))
			onChange(s)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("settings watcher error", zap.Error(err))
		}
	}
}
