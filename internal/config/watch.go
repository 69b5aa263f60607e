package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watch watches path for writes and, whenever a freshly parsed and validated
// Config replaces the one in store, calls onReload with the Diff between them. It never returns until ctx is
// cancelled or the watcher itself fails to start. Reload errors (a
// momentarily half-written file, invalid JSON, a failed validation) are
// logged and skipped rather than propagated — the previous config in the
// Store remains authoritative until a valid reload arrives, matching the
// donor's "stay operational on partial data" posture (§4.B rationale).
func Watch(ctx context.Context, path string, store *Store, onReload func(Diff)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	logger := log.With().Str("component", "config").Str("path", path).Logger()

	// Editors often replace the file (write-then-rename); debounce bursts
	// of events from a single logical save into one reload.
	var debounce *time.Timer
	reload := func() {
		next, err := Load(path)
		if err != nil {
			logger.Warn().Err(err).Msg("hot-reload failed, keeping previous config")
			return
		}
		d, err := store.Apply(next)
		if err != nil {
			logger.Warn().Err(err).Msg("hot-reload validation failed, keeping previous config")
			return
		}
		logger.Info().
			Strs("added", d.AddedSymbols).
			Strs("removed", d.RemovedSymbols).
			Strs("changed", d.ChangedSymbols).
			Bool("globalChanged", d.GlobalChanged).
			Msg("config reloaded")
		if onReload != nil {
			onReload(d)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}
