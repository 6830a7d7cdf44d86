// Package themewatch follows a mode file and reports light/dark changes.
package themewatch

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/cptaffe/acme-flow/gradient"
	"github.com/cptaffe/acme-flow/logger"
)

// Watch blocks until ctx is cancelled, calling onChange whenever a write,
// create or rename of path leaves mode reporting a different value.
//
// The directory is watched rather than the file, so the watch survives
// editors that save by renaming a new file over the old one.
func Watch(ctx context.Context, path string, mode func() gradient.Mode, onChange func(gradient.Mode)) error {
	path = filepath.Clean(path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create mode file watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	log := logger.L(ctx).With(zap.String("path", path))
	last := mode()
	log.Debug("watching mode file", zap.Stringer("mode", last))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			m := mode()
			if m == last {
				continue
			}
			last = m
			log.Info("presentation mode changed", zap.Stringer("mode", m))
			onChange(m)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("mode file watcher", zap.Error(err))
		}
	}
}
