package manifest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"assetd/internal/common/fsutil"
)

// reloadDebounce coalesces the burst of events editors and atomic renames emit.
const reloadDebounce = 100 * time.Millisecond

// Watch reloads the manifest at path whenever it changes and publishes it to
// st. A reload that fails to parse keeps the previous snapshot. onReload, if
// set, is called after every successful publish. Watch blocks until ctx is
// done.
func Watch(ctx context.Context, path string, st *Store, log zerolog.Logger, onReload func(*Snapshot)) error {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return fmt.Errorf("abs path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer w.Close()
	// Watch the directory: atomic replaces remove the original inode.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
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
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			s, err := LoadFile(abs)
			if err != nil {
				log.Error().Err(err).Str("path", abs).Msg("manifest event=reload_failed")
				continue
			}
			st.Publish(s)
			log.Info().Str("path", abs).Str("version", s.Version()).Int("models", s.Len()).Msg("manifest event=reloaded")
			if onReload != nil {
				onReload(s)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("manifest event=watch_error")
		}
	}
}
