package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the configuration file when it changes on disk and
// hands the validated result to a callback. A file that fails to load
// keeps the previous configuration in effect.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
	onLoad  func(*Config)
}

// NewWatcher watches the config file at path. onLoad is invoked with each
// successfully loaded configuration.
func NewWatcher(path string, logger zerolog.Logger, onLoad func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files on save,
	// which drops a watch on the file itself.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}
	return &Watcher{path: path, watcher: fw, logger: logger, onLoad: onLoad}, nil
}

// Run processes file events until the context is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn().Err(err).Msg("config reload failed, keeping previous configuration")
				continue
			}
			w.logger.Info().Str("path", w.path).Msg("configuration reloaded")
			w.onLoad(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}
