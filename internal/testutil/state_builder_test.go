package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/deckhand/core"
)

func TestStateBuilder(t *testing.T) {
	b := NewStateBuilder("run-1").
		User("hi").
		Assistant("", core.ToolCall{ID: "c1", Name: "lookup"}).
		ToolResult("c1", "lookup", "found").
		Meta("k", "v")

	state := b.Build()
	assert.Equal(t, "run-1", state.RunID)
	require.Len(t, state.Messages, 3)
	assert.Equal(t, core.RoleTool, state.Messages[2].Role)
	assert.Equal(t, "v", state.Meta["k"])
	assert.NoError(t, state.Validate())

	// later chaining does not alter built states
	b.User("again")
	assert.Len(t, state.Messages, 3)
}

func TestWriteFiles(t *testing.T) {
	dir := WriteFiles(t, map[string]string{"a/b.md": "x"})
	data, err := os.ReadFile(filepath.Join(dir, "a", "b.md"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	path := WriteDeck(t, "deck")
	assert.Equal(t, "root.md", filepath.Base(path))
}
