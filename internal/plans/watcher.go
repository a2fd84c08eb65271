package plans

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads path into t whenever the file is written or recreated, until
// ctx is cancelled. Invalid reloads are logged and the previous limits kept.
func (t *Table) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create plans watcher: %w", err)
	}

	// Watch the directory so editors that replace the file are still seen.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch plans directory %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(path)
		for {
			select {
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
				// Wait for the write to finish.
				time.Sleep(reloadDebounce)
				if err := t.LoadFile(path); err != nil {
					log.Error().Err(err).Str("path", path).Msg("Failed to reload plans file; keeping previous limits")
					continue
				}
				log.Info().Str("path", path).Str("event", event.Op.String()).Msg("Reloaded plans file")

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("Plans watcher error")

			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info().Str("path", path).Msg("Started watching plans file for changes")
	return nil
}
