package deck

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
)

// Arena caches loaded decks by absolute path. Action decks reference each
// other by path, so the call graph may contain cycles; the Arena lets the
// engine resolve each node once without re-reading documents per call.
type Arena struct {
	loader *Loader
	mu     sync.RWMutex
	decks  map[string]*Deck
}

// NewArena creates an empty Arena backed by loader.
func NewArena(loader *Loader) *Arena {
	return &Arena{loader: loader, decks: map[string]*Deck{}}
}

// Get returns the deck at path, loading it on first use.
func (a *Arena) Get(ctx context.Context, path string) (*Deck, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &DocumentError{Path: path, Err: err}
	}

	a.mu.RLock()
	d, ok := a.decks[abs]
	a.mu.RUnlock()
	if ok {
		return d, nil
	}

	d, err = a.loader.Load(ctx, abs)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.decks[abs]; ok {
		return existing, nil
	}
	a.decks[abs] = d
	return d, nil
}

// Put stores an already loaded deck.
func (a *Arena) Put(d *Deck) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.decks[d.Path] = d
}

// Invalidate drops every cached deck that is, embeds, or references as a
// schema module the file at path.
// It returns the paths of the dropped decks.
func (a *Arena) Invalidate(path string) []string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var dropped []string
	for p, d := range a.decks {
		if d.dependsOn(abs) {
			delete(a.decks, p)
			dropped = append(dropped, p)
		}
	}
	slices.Sort(dropped)
	return dropped
}

// Reset drops every cached deck.
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.decks)
}

// Paths lists the cached deck paths in sorted order.
func (a *Arena) Paths() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	paths := make([]string, 0, len(a.decks))
	for p := range a.decks {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// Files returns the files the deck was assembled from: its own path, every
// flattened card and the schema modules they reference. Each path appears
// once.
func (d *Deck) Files() []string {
	files := make([]string, 0, len(d.Cards)+len(d.Schemas)+1)
	add := func(paths ...string) {
		for _, p := range paths {
			if !slices.Contains(files, p) {
				files = append(files, p)
			}
		}
	}
	add(d.Path)
	add(d.Schemas...)
	for _, c := range d.Cards {
		add(c.Path)
		add(c.Schemas...)
	}
	return files
}

func (d *Deck) dependsOn(path string) bool {
	return slices.Contains(d.Files(), path)
}
