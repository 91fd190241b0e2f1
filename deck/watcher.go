package deck

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hupe1980/deckhand/logging"
)

// WatcherOptions configure a Watcher.
type WatcherOptions struct {
	Logger logging.Logger
	// Debounce is how long a path must stay quiet before it is reported.
	Debounce time.Duration
}

// Watcher reports changed deck documents. Editors tend to emit bursts of
// events per save, so changes are debounced per path.
type Watcher struct {
	watcher  *fsnotify.Watcher
	logger   logging.Logger
	debounce time.Duration

	mu      sync.Mutex
	dirs    map[string]bool
	pending map[string]time.Time
}

// NewWatcher creates a Watcher. Call Close when done.
func NewWatcher(optFns ...func(o *WatcherOptions)) (*Watcher, error) {
	opts := WatcherOptions{Logger: logging.NoOpLogger{}, Debounce: 200 * time.Millisecond}
	for _, fn := range optFns {
		fn(&opts)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  fw,
		logger:   opts.Logger,
		debounce: opts.Debounce,
		dirs:     map[string]bool{},
		pending:  map[string]time.Time{},
	}, nil
}

// AddDeck watches the directories of every document d was assembled from.
func (w *Watcher) AddDeck(d *Deck) error {
	for _, f := range d.Files() {
		if err := w.Add(f); err != nil {
			return err
		}
	}
	return nil
}

// Add watches the directory containing path.
func (w *Watcher) Add(path string) error {
	dir := filepath.Dir(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirs[dir] {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = true
	w.logger.Debug("deck.watch.added", "dir", dir)
	return nil
}

// Run delivers settled changes to fn until ctx is done or the watcher is
// closed. fn runs on the watcher goroutine.
func (w *Watcher) Run(ctx context.Context, fn func(path string)) error {
	tick := w.debounce / 2
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.mu.Lock()
			w.pending[filepath.Clean(event.Name)] = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("deck.watch.error", "error", err)
		case <-ticker.C:
			for _, path := range w.settled() {
				fn(path)
			}
		}
	}
}

func (w *Watcher) settled() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	var out []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			out = append(out, path)
			delete(w.pending, path)
		}
	}
	return out
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
