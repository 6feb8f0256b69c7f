// Package watcher implements the Session Watcher: it continuously reflects
// "which session files exist and when did each last change" into a
// readiness signal for the Segment Extractor. It never reads file contents.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// sessionFileSuffix matches the session naming convention from spec.md §6:
// <sessions_root>/--<encoded_cwd>--/<timestamp>_<uuid>.jsonl
const sessionFileSuffix = ".jsonl"

// Change is emitted whenever a session file is created or modified, after
// debounce coalescing.
type Change struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// Config configures the Watcher.
type Config struct {
	// Roots are the directories recursively scanned for session files.
	Roots []string
	// Debounce coalesces bursts of writes to the same file into one
	// emission. Default 250ms per spec.md §4.1.
	Debounce time.Duration
	// PollInterval is the fallback poll period used when native
	// notifications are unavailable for a root. Default 5s.
	PollInterval time.Duration
	// ReprobeInterval controls how often a disappeared root is re-checked.
	ReprobeInterval time.Duration
	Logger          *slog.Logger
}

func (c *Config) setDefaults() {
	if c.Debounce <= 0 {
		c.Debounce = 250 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.ReprobeInterval <= 0 {
		c.ReprobeInterval = 30 * time.Second
	}
}

// Watcher discovers and tail-observes session files under a set of root
// directories. It prefers native filesystem notifications (fsnotify) and
// always runs a slower polling pass as a safety net, so poll and
// notification modes are equivalent from the caller's perspective, per
// spec.md §4.1.
type Watcher struct {
	cfg    Config
	log    *slog.Logger
	fs     *fsnotify.Watcher
	onChange func(Change)

	mu          sync.Mutex
	debounce    map[string]*time.Timer
	watchedDirs map[string]bool
	inactive    map[string]bool // roots that disappeared
	known       map[string]time.Time // path -> last emitted modtime, for poll dedup

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Watcher. Call Start to begin observing.
func New(cfg Config, onChange func(Change)) (*Watcher, error) {
	cfg.setDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		// Per spec.md §4.1 this is non-fatal: the watcher falls back to
		// polling only.
		logger.Warn("native filesystem notifications unavailable, falling back to polling", "error", err)
	}

	return &Watcher{
		cfg:         cfg,
		log:         logger,
		fs:          fsw,
		onChange:    onChange,
		debounce:    make(map[string]*time.Timer),
		watchedDirs: make(map[string]bool),
		inactive:    make(map[string]bool),
		known:       make(map[string]time.Time),
		stopCh:      make(chan struct{}),
	}, nil
}

// Start begins observing. It returns once the initial scan of all roots has
// completed; ongoing observation happens on background goroutines until
// Stop is called or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	for _, root := range w.cfg.Roots {
		w.addRootRecursive(root)
	}

	if w.fs != nil {
		w.wg.Add(1)
		go w.runNotify(ctx)
	}

	w.wg.Add(1)
	go w.runPoll(ctx)

	w.wg.Add(1)
	go w.runReprobe(ctx)

	return nil
}

// Stop halts all background goroutines and releases the fsnotify watcher.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	if w.fs != nil {
		w.fs.Close()
	}
}

// addRootRecursive adds root and every subdirectory discovered under it to
// the fsnotify watcher (fsnotify does not recurse on its own). A root that
// cannot be statted is marked inactive for periodic re-probing rather than
// treated as fatal — watcher failure is non-fatal per spec.md §4.1.
func (w *Watcher) addRootRecursive(root string) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		w.mu.Lock()
		w.inactive[root] = true
		w.mu.Unlock()
		w.log.Warn("session root unavailable, will re-probe", "root", root, "error", err)
		return
	}

	w.mu.Lock()
	delete(w.inactive, root)
	w.mu.Unlock()

	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d == nil || !d.IsDir() {
			return nil
		}
		w.watchDir(path)
		return nil
	})
}

// watchDir registers one directory with fsnotify, if available.
func (w *Watcher) watchDir(dir string) {
	w.mu.Lock()
	already := w.watchedDirs[dir]
	w.watchedDirs[dir] = true
	w.mu.Unlock()
	if already || w.fs == nil {
		return
	}
	if err := w.fs.Add(dir); err != nil {
		w.log.Warn("failed to watch directory", "dir", dir, "error", err)
	}
}

func isSessionFile(path string) bool {
	return strings.HasSuffix(path, sessionFileSuffix)
}

// emit debounces a raw filesystem signal for path into a single Change
// delivered after cfg.Debounce of quiescence.
func (w *Watcher) emit(path string) {
	w.mu.Lock()
	if t, ok := w.debounce[path]; ok {
		t.Stop()
	}
	w.debounce[path] = time.AfterFunc(w.cfg.Debounce, func() { w.deliver(path) })
	w.mu.Unlock()
}

func (w *Watcher) deliver(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return // file vanished between signal and delivery; next event will re-discover it
	}
	w.mu.Lock()
	last, seen := w.known[path]
	w.known[path] = info.ModTime()
	w.mu.Unlock()
	if seen && !info.ModTime().After(last) {
		return
	}
	w.onChange(Change{Path: path, ModTime: info.ModTime(), Size: info.Size()})
}
