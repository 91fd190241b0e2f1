package deck

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/deckhand/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArena_CachesAndInvalidates(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{
		"a.deck.md": "A\n![c](card.md)\n",
		"b.deck.md": "B",
		"card.md":   "Card v1",
	})
	arena := NewArena(NewLoader())
	ctx := context.Background()

	a1, err := arena.Get(ctx, filepath.Join(dir, "a.deck.md"))
	require.NoError(t, err)
	a2, err := arena.Get(ctx, filepath.Join(dir, "a.deck.md"))
	require.NoError(t, err)
	assert.Same(t, a1, a2)

	_, err = arena.Get(ctx, filepath.Join(dir, "b.deck.md"))
	require.NoError(t, err)
	assert.Len(t, arena.Paths(), 2)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "card.md"), []byte("Card v2"), 0o600))
	dropped := arena.Invalidate(filepath.Join(dir, "card.md"))
	assert.Equal(t, []string{filepath.Join(dir, "a.deck.md")}, dropped)

	a3, err := arena.Get(ctx, filepath.Join(dir, "a.deck.md"))
	require.NoError(t, err)
	assert.Contains(t, a3.Prompt(), "Card v2")

	arena.Reset()
	assert.Empty(t, arena.Paths())
}

func TestArena_InvalidatesOnSchemaChange(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{
		"a.deck.md":  "---\noutputSchema: out.json\n---\nA\n![c](card.md)\n",
		"card.md":    "---\ninputSchema: in.json\n---\nCard",
		"out.json":   `{"type":"string"}`,
		"in.json":    `{"type":"object","properties":{"x":{"type":"string"}}}`,
		"other.json": `{"type":"string"}`,
	})
	arena := NewArena(NewLoader())
	ctx := context.Background()
	deckPath := filepath.Join(dir, "a.deck.md")

	d, err := arena.Get(ctx, deckPath)
	require.NoError(t, err)
	assert.Equal(t, []string{
		deckPath,
		filepath.Join(dir, "out.json"),
		filepath.Join(dir, "card.md"),
		filepath.Join(dir, "in.json"),
	}, d.Files())

	assert.Empty(t, arena.Invalidate(filepath.Join(dir, "other.json")))
	assert.Equal(t, []string{deckPath}, arena.Invalidate(filepath.Join(dir, "in.json")))

	_, err = arena.Get(ctx, deckPath)
	require.NoError(t, err)
	assert.Equal(t, []string{deckPath}, arena.Invalidate(filepath.Join(dir, "out.json")))
	assert.Empty(t, arena.Paths())
}

func TestArena_LoadErrorNotCached(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{"bad.deck.md": "---\nstartMode: nope\n---\n"})
	arena := NewArena(NewLoader())
	_, err := arena.Get(context.Background(), filepath.Join(dir, "bad.deck.md"))
	require.Error(t, err)
	assert.Empty(t, arena.Paths())
}

func TestWatcher_ReportsChangedDocument(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{"root.deck.md": "v1"})
	d, err := load(t, dir, "root.deck.md")
	require.NoError(t, err)

	w, err := NewWatcher(func(o *WatcherOptions) { o.Debounce = 20 * time.Millisecond })
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	require.NoError(t, w.AddDeck(d))

	ctx, cancel := context.WithCancel(context.Background())
	changed := make(chan string, 8)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, func(p string) { changed <- p }) }()

	require.NoError(t, os.WriteFile(d.Path, []byte("v2"), 0o600))

	select {
	case p := <-changed:
		assert.Equal(t, d.Path, p)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
	cancel()
	require.NoError(t, <-done)
}
