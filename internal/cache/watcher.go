package cache

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"codegraph/internal/logging"
)

// InvalidateFunc receives the repo id and the changed file path.
type InvalidateFunc func(repoID, path string)

// Watcher bridges filesystem events into cache invalidation: a write or
// remove under a watched repo root evicts that repo's IR entries and notifies
// any registered listeners (e.g. the taint engine's path cache).
type Watcher struct {
	fw     *fsnotify.Watcher
	tiered *TieredCache

	mu        sync.Mutex
	roots     map[string]string // root dir -> repo id
	listeners []InvalidateFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewWatcher starts the event loop. Close must be called to release the
// underlying inotify resources.
func NewWatcher(tiered *TieredCache) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("cache watcher: %w", err)
	}
	w := &Watcher{
		fw:     fw,
		tiered: tiered,
		roots:  make(map[string]string),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// WatchRepo registers a repo root. Events for entries directly inside root
// invalidate repoID; subdirectories of root are not watched.
func (w *Watcher) WatchRepo(repoID, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("cache watcher: %w", err)
	}
	if err := w.fw.Add(abs); err != nil {
		return fmt.Errorf("cache watcher: watch %s: %w", abs, err)
	}
	w.mu.Lock()
	w.roots[abs] = repoID
	w.mu.Unlock()
	logging.Cache("Watcher: watching %s as repo %s", abs, repoID)
	return nil
}

// OnInvalidate registers an extra listener invoked after the tiered cache
// eviction.
func (w *Watcher) OnInvalidate(fn InvalidateFunc) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) == 0 {
				continue
			}
			w.handle(ev.Name)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryCache).Warn("Watcher: %v", err)
		}
	}
}

func (w *Watcher) handle(path string) {
	w.mu.Lock()
	var repoID string
	for root, id := range w.roots {
		if rel, err := filepath.Rel(root, path); err == nil && !filepath.IsAbs(rel) && rel != ".." && !isOutside(rel) {
			repoID = id
			break
		}
	}
	listeners := make([]InvalidateFunc, len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	if repoID == "" {
		return
	}
	logging.CacheDebug("Watcher: change in %s invalidates repo %s", path, repoID)
	if w.tiered != nil {
		w.tiered.InvalidateRepo(repoID)
	}
	for _, fn := range listeners {
		fn(repoID, path)
	}
}

func isOutside(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}

// Close stops the loop and releases the watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fw.Close()
	})
	return err
}
