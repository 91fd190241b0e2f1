package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/deckhand/config"
	"github.com/hupe1980/deckhand/internal/testutil"
	"github.com/hupe1980/deckhand/model"
)

func scripted(steps ...model.Step) func(config.Config) (model.Model, error) {
	return func(config.Config) (model.Model, error) {
		return model.NewScriptedModel(steps...), nil
	}
}

// -------------------- Root Tests --------------------

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "deckhand", cmd.Use)
	assert.Contains(t, cmd.Long, "markdown")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"run", "check", "serve"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			require.NotNil(t, sub)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
}

func TestRootRejectsUnknownFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "xml", "check", "missing.md"})
	err := cmd.Execute()
	assert.ErrorContains(t, err, "invalid format")
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	for _, name := range []string{"addr", "deck", "db"} {
		f := serve.Flags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, "", f.DefValue)
	}
	assert.Equal(t, "true", serve.Flags().Lookup("watch").DefValue)
}

// -------------------- Run Tests --------------------

func TestRun_PrintsOutput(t *testing.T) {
	path := testutil.WriteDeck(t, "You are helpful.\n")

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text", NewModel: scripted(model.Reply("hello"))})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "hello\n", buf.String())
}

func TestRun_Streams(t *testing.T) {
	path := testutil.WriteDeck(t, "You are helpful.\n")

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text", NewModel: scripted(model.Reply("streamed"))})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--stream", path})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "streamed\n", buf.String())
}

func TestRun_JSONResult(t *testing.T) {
	path := testutil.WriteDeck(t, "You are helpful.\n")

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "json", NewModel: scripted(model.Reply("hello"))})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--message", "hi", path})

	require.NoError(t, cmd.Execute())

	var res map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))
	assert.Equal(t, "completed", res["status"])
	assert.Equal(t, "hello", res["output"])
	assert.NotEmpty(t, res["runId"])
}

func TestRun_ModelFailure(t *testing.T) {
	path := testutil.WriteDeck(t, "You are helpful.\n")

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text", NewModel: scripted()})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "run error")
}

func TestRun_MissingDeck(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text", NewModel: scripted(model.Reply("x"))})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "missing.md")})
	assert.Error(t, cmd.Execute())
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{`{"q":"x"}`, map[string]any{"q": "x"}},
		{`42`, 42.0},
		{`"quoted"`, "quoted"},
		{`plain text`, "plain text"},
		{``, ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, parseInput(tt.raw))
		})
	}
}

// -------------------- Check Tests --------------------

func TestCheck_ValidDeck(t *testing.T) {
	path := testutil.WriteDeck(t, "---\nlabel: Root\n---\nYou are helpful.\n")

	buf := &bytes.Buffer{}
	cmd := NewCheckCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓")
	assert.Contains(t, buf.String(), "(Root)")
}

func TestCheck_ReportsLoadErrors(t *testing.T) {
	good := testutil.WriteDeck(t, "Fine.\n")
	missing := filepath.Join(t.TempDir(), "missing.md")

	buf := &bytes.Buffer{}
	cmd := NewCheckCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{good, missing})

	err := cmd.Execute()
	assert.ErrorContains(t, err, "1 of 2 decks failed")

	var results []CheckResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &results))
	require.Len(t, results, 2)
	assert.True(t, results[0].Valid)
	assert.False(t, results[1].Valid)
	assert.NotEmpty(t, results[1].Error)
}
