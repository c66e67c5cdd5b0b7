// Package watch monitors the project tree for file changes and forwards
// debounced batches of changed paths to the build scheduler.
package watch

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/uci/internal/config"
	"github.com/standardbeagle/uci/internal/debug"
	"github.com/standardbeagle/uci/pkg/pathutil"
)

// Watcher monitors the filesystem and triggers incremental updates.
type Watcher struct {
	watcher   *fsnotify.Watcher
	cfg       *config.Config
	debouncer *eventDebouncer
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// onChanged receives each debounced batch of changed paths.
	onChanged func(paths []string)

	statsMu         sync.RWMutex
	eventsProcessed int64
	lastEventTime   time.Time
}

// New creates a watcher. onChanged is invoked from the debouncer goroutine
// with each coalesced batch.
func New(cfg *config.Config, onChanged func(paths []string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		watcher:   fsw,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		onChanged: onChanged,
	}
	w.debouncer = newEventDebouncer(time.Duration(cfg.Build.DebounceMs)*time.Millisecond, w.flushBatch)
	return w, nil
}

// Start adds watches for the project root and begins processing events.
func (w *Watcher) Start() error {
	if err := w.addWatches(w.cfg.Project.Root); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.processEvents()
	debug.LogWatch("watching %s\n", w.cfg.Project.Root)
	return nil
}

// Stop shuts the watcher down and waits for its goroutines.
func (w *Watcher) Stop() error {
	w.cancel()
	if err := w.watcher.Close(); err != nil {
		log.Printf("error closing fsnotify watcher: %v", err)
	}
	w.debouncer.stop()
	w.wg.Wait()
	return nil
}

// addWatches recursively watches directories, skipping excluded ones and
// guarding against symlink cycles.
func (w *Watcher) addWatches(root string) error {
	visited := make(map[string]bool)
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries, keep walking
		}
		if !info.IsDir() {
			return nil
		}
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil
		}
		if visited[real] {
			return filepath.SkipDir
		}
		visited[real] = true

		if w.excludedDir(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			log.Printf("warning: failed to watch %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) excludedDir(path string) bool {
	rel := pathutil.MatchRel(path, w.cfg.Project.Root)
	for _, pattern := range w.cfg.Exclude {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return true
		}
		if matched, _ := doublestar.Match(pattern, rel+"/"); matched {
			return true
		}
	}
	return false
}

// wanted reports whether a file path should be forwarded. Project-defining
// inputs always pass; other files must match an include pattern and no
// exclude pattern.
func (w *Watcher) wanted(path string) bool {
	if w.cfg.IsProjectFile(path) {
		return true
	}
	rel := pathutil.MatchRel(path, w.cfg.Project.Root)
	for _, pattern := range w.cfg.Exclude {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return false
		}
	}
	for _, pattern := range w.cfg.Include {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("file watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name
	debug.LogWatch("event %v for %s\n", event.Op, path)

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		// Newly created directories need their own watch.
		if event.Op&fsnotify.Create != 0 && !w.excludedDir(path) {
			if err := w.watcher.Add(path); err != nil {
				log.Printf("warning: failed to watch new directory %s: %v", path, err)
			}
		}
		return
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if !w.wanted(path) {
		return
	}
	w.debouncer.add(path)
}

func (w *Watcher) flushBatch(paths []string) {
	w.statsMu.Lock()
	w.eventsProcessed += int64(len(paths))
	w.lastEventTime = time.Now()
	w.statsMu.Unlock()

	if w.onChanged != nil {
		w.onChanged(paths)
	}
}

// Stats describes watcher activity.
type Stats struct {
	EventsProcessed int64
	LastEventTime   time.Time
	Active          bool
}

// GetStats returns current watcher statistics.
func (w *Watcher) GetStats() Stats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return Stats{
		EventsProcessed: w.eventsProcessed,
		LastEventTime:   w.lastEventTime,
		Active:          w.ctx.Err() == nil,
	}
}

// eventDebouncer coalesces per-path events into one batch per quiet period.
type eventDebouncer struct {
	mu      sync.Mutex
	paths   map[string]bool
	window  time.Duration
	timer   *time.Timer
	flush   func([]string)
	stopped bool
}

func newEventDebouncer(window time.Duration, flush func([]string)) *eventDebouncer {
	if window <= 0 {
		window = 50 * time.Millisecond
	}
	return &eventDebouncer{
		paths:  make(map[string]bool),
		window: window,
		flush:  flush,
	}
}

func (d *eventDebouncer) add(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.paths[path] = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fire)
}

func (d *eventDebouncer) fire() {
	d.mu.Lock()
	paths := d.paths
	d.paths = make(map[string]bool)
	stopped := d.stopped
	d.mu.Unlock()
	if stopped || len(paths) == 0 {
		return
	}
	batch := make([]string, 0, len(paths))
	for path := range paths {
		batch = append(batch, path)
	}
	d.flush(batch)
}

// stop drops pending events. Events pending at shutdown are acceptable to
// lose since the index is being torn down anyway.
func (d *eventDebouncer) stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
}
