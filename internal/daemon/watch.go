package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchConfig watches the loaded config file. The configuration is
// immutable for the process lifetime, so a change only produces a
// restart-required warning instead of a live reload.
func (d *Daemon) watchConfig(ctx context.Context) {
	if d.cfg.ConfigPath == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.Error("Failed to create config file watcher", "error", err)
		return
	}

	if err := watcher.Add(d.cfg.ConfigPath); err != nil {
		d.logger.Error("Failed to watch config file", "error", err, "path", d.cfg.ConfigPath)
		watcher.Close()
		return
	}

	// Editors fire bursts of write events; debounce to one warning
	var warnTimer *time.Timer
	var warnMu sync.Mutex

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}

				warnMu.Lock()
				if warnTimer != nil {
					warnTimer.Stop()
				}
				warnTimer = time.AfterFunc(500*time.Millisecond, func() {
					d.logger.Warn("Config file changed on disk, restart to apply",
						"path", d.cfg.ConfigPath)
				})
				warnMu.Unlock()

				// Editors that replace the file drop the watch; the new
				// file may not exist yet when the event arrives
				if event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
					for i := 0; i < 10; i++ {
						if watcher.Add(d.cfg.ConfigPath) == nil {
							break
						}
						time.Sleep(100 * time.Millisecond)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Error("Config file watcher error", "error", err)
			}
		}
	}()
}
