package config

import (
	"context"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollInterval is the polling-fallback cadence, carried over from the
// teacher's license watcher's 60s safety-net ticker.
const pollInterval = 60 * time.Second

// debounce absorbs editors that write a file in several small syscalls
// (truncate-then-write), avoiding a reload-per-syscall burst.
const debounce = 100 * time.Millisecond

// Watch starts the fsnotify-backed hot-reload loop, falling back to
// pollInterval polling if the watch can't be established (e.g. the file
// doesn't exist yet). The loop runs in the background until ctx is
// cancelled; Watch itself returns as soon as the loop is started.
func (w *Watcher) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := false
	if err != nil {
		log.Printf("[config] fsnotify unavailable (%v), falling back to polling", err)
		usePolling = true
	} else if err := watcher.Add(w.path); err != nil {
		log.Printf("[config] failed to watch %s (%v), falling back to polling", w.path, err)
		usePolling = true
		watcher.Close()
	}

	if !usePolling {
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
					if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						time.Sleep(debounce)
						w.reload()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("[config] watch error: %v", err)
				}
			}
		}()
		return
	}

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.reload()
			}
		}
	}()
}
