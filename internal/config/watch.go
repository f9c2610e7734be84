package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const watchDebounce = 250 * time.Millisecond

// WatchFile calls reload whenever path is written, created or renamed into place.
// The parent directory is watched so editors that replace the file atomically are
// picked up. Watching stops when ctx is cancelled.
func WatchFile(ctx context.Context, path string, logger zerolog.Logger, reload func() error) error {
	if path == "" || reload == nil {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(watchDebounce, func() {
					if err := reload(); err != nil {
						logger.Error().Err(err).Str("file", abs).Msg("reload failed")
						return
					}
					logger.Info().Str("file", abs).Msg("reloaded")
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Str("file", abs).Msg("file watcher error")
			}
		}
	}()
	return nil
}
