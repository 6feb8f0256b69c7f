package watcher

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// runNotify consumes fsnotify events: new directories are added to the
// watch set as they're discovered, writes/creates to session files are
// debounced and emitted.
func (w *Watcher) runNotify(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			// Non-fatal per spec.md §4.1: logged and retried implicitly
			// since the watcher keeps running; the poll fallback covers
			// any events lost to a flaky notification backend.
			w.log.Warn("filesystem notification error", "error", err)
		}
	}
}

func (w *Watcher) handleFSEvent(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.watchDir(ev.Name)
			return
		}
	}
	if isSessionFile(ev.Name) && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
		w.emit(ev.Name)
	}
}

// runPoll is the always-on polling safety net: it walks every configured
// root on a ticker and emits a Change for any session file whose modtime
// has advanced since it was last seen. This makes poll and notification
// modes equivalent per spec.md §4.1, catching editors/network mounts that
// fsnotify misses.
func (w *Watcher) runPoll(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce()
		}
	}
}

func (w *Watcher) pollOnce() {
	for _, root := range w.cfg.Roots {
		w.mu.Lock()
		inactive := w.inactive[root]
		w.mu.Unlock()
		if inactive {
			continue
		}
		_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if !isSessionFile(path) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			w.mu.Lock()
			last, seen := w.known[path]
			w.mu.Unlock()
			if seen && !info.ModTime().After(last) {
				return nil
			}
			w.mu.Lock()
			w.known[path] = info.ModTime()
			w.mu.Unlock()
			w.onChange(Change{Path: path, ModTime: info.ModTime(), Size: info.Size()})
			return nil
		})
	}
}

// runReprobe periodically retries roots that were unavailable at startup
// or went missing (e.g. an unmounted sync target), re-adding them to the
// fsnotify watch set once they reappear.
func (w *Watcher) runReprobe(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.ReprobeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			var toRetry []string
			for root := range w.inactive {
				toRetry = append(toRetry, root)
			}
			w.mu.Unlock()
			for _, root := range toRetry {
				w.addRootRecursive(root)
			}
		}
	}
}
