package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteFiles writes files, keyed by slash separated relative path, into a
// fresh temporary directory and returns the directory.
//
//	dir := WriteFiles(t, map[string]string{
//	    "root.md":        "You are helpful.\n",
//	    "cards/style.md": "Be terse.\n",
//	})
func WriteFiles(t testing.TB, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return dir
}

// WriteDeck writes a single deck document named root.md and returns its path.
func WriteDeck(t testing.TB, content string) string {
	t.Helper()
	return filepath.Join(WriteFiles(t, map[string]string{"root.md": content}), "root.md")
}
