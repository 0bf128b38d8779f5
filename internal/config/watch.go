package config

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file whenever it changes on disk and calls
// onReload with the new value. Invalid intermediate states (editors
// often truncate-then-write) are skipped silently; the last valid config
// wins. Returns after the watcher is installed; watching stops when ctx
// is cancelled.
func Watch(ctx context.Context, path string, onReload func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory, not the file — most editors replace the file,
	// which would invalidate a direct file watch.
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}

	target := filepath.Clean(path)

	go func() {
		defer w.Close()

		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				// Coalesce the burst of events one save produces.
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(200*time.Millisecond, func() {
					cfg, err := Load(path)
					if err != nil {
						log.Printf("CONFIG: reload skipped: %v", err)
						return
					}
					log.Printf("CONFIG: reloaded %s", path)
					onReload(cfg)
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("CONFIG: watch error: %v", err)
			}
		}
	}()

	return nil
}
