package server

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig monitors path and calls onChange with the reloaded Config each
// time the file is written. It runs until ctx is cancelled.
//
// A reload that fails (unreadable file, invalid YAML) is logged and the
// previous configuration stays in effect; onChange is not called.
func WatchConfig(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	logger.Info("Watching config for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors that save atomically replace the file, which shows up as Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := LoadConfig(path)
			if err != nil {
				logger.Error("Config reload failed, keeping previous config", "path", path, "err", err)
				continue
			}

			logger.Info("Config reloaded", "path", path)
			onChange(cfg)

			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("Config watcher error", "err", err)
		}
	}
}
