package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/tally/pkg/observability"
)

// Watch reloads the policy file whenever it changes and calls onChange
// after every successful reload. A file that fails to parse is logged and
// the previous policies stay in effect. Watch returns once the watcher is
// running; it stops when ctx is done.
func (s *PolicySet) Watch(ctx context.Context, path string, logger *observability.Logger, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Editors replace files by rename, so watch the directory
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		defer observability.RecoverPanic(logger, "policy watcher")

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.LoadFile(path); err != nil {
					logger.WithError(err).WithField("path", path).Error("Failed to reload policy file")
					continue
				}
				logger.WithField("path", path).Info("Reloaded policy file")
				if onChange != nil {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Policy watcher error")
			}
		}
	}()
	return nil
}
