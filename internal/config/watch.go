package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Watch reloads the file at path into c whenever it is written or replaced
// and then calls onChange. A file that does not decode, such as one caught
// halfway through a save, is logged and skipped so the live values stay.
// Running jobs keep their snapshot; the reloaded values apply from the next
// job. Watch blocks until ctx is done.
func (c *Config) Watch(ctx context.Context, path string, logger *zap.SugaredLogger, onChange func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, "resolve config path")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer w.Close()

	// editors replace files instead of writing in place, so watch the directory
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return errors.Wrapf(err, "watch %s", filepath.Dir(abs))
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			next, err := readConfigFile(abs)
			if err != nil {
				logger.Warnw("ignoring unreadable settings file", "path", abs, "error", err)
				continue
			}

			c.Update(next)
			if onChange != nil {
				onChange(c)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return errors.Wrap(err, "config watcher")
		}
	}
}
