package deck

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hupe1980/deckhand/internal/testutil"
	"github.com/hupe1980/deckhand/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, dir, name string) (*Deck, error) {
	t.Helper()
	return NewLoader().Load(context.Background(), filepath.Join(dir, name))
}

// -------------------- Front Matter Tests --------------------

func TestSplitFrontMatter(t *testing.T) {
	header, body, err := splitFrontMatter([]byte("---\r\nlabel: x\r\n---\r\nHello\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "label: x\n", header)
	assert.Equal(t, "Hello\n", body)

	header, body, err = splitFrontMatter([]byte("Just a body"))
	require.NoError(t, err)
	assert.Empty(t, header)
	assert.Equal(t, "Just a body", body)

	_, _, err = splitFrontMatter([]byte("---\nlabel: x\n"))
	assert.ErrorContains(t, err, "unterminated front matter")
}

func TestParseDocument_MarkersAndEmbeds(t *testing.T) {
	doc, err := parseDocument([]byte("---\nembeds: [extra.md, cards/a.md]\n---\nIntro\n![ctx](deckhand://snippets/init)\n![card](cards/a.md)\n![done](deckhand://snippets/respond)\n"))
	require.NoError(t, err)
	assert.True(t, doc.initHint)
	assert.True(t, doc.respondEnabled)
	assert.Equal(t, []string{"cards/a.md", "extra.md"}, doc.embeds)
	assert.Contains(t, doc.body, tool.RespondToolName)
	assert.Contains(t, doc.body, tool.InitToolName)
	assert.NotContains(t, doc.body, "cards/a.md")
	assert.NotContains(t, doc.body, "deckhand://")
}

// -------------------- Loader Tests --------------------

func TestLoad_CycleDetection(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{
		"A": "Deck A\n![b](B)\n",
		"B": "Card B\n![a](A)\n",
	})

	_, err := load(t, dir, "A")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "A -> B -> A")

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"A", "B", "A"}, cycle.Chain)
	assert.True(t, IsLoadError(err))
}

func TestLoad_SchemaMergeAcrossCards(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{
		"root.deck.md": "Root\n![one](card1.md)\n![two](card2.md)\n",
		"card1.md":     "---\ninputSchema: card1.json\n---\nCard one",
		"card2.md":     "---\ninputSchema: card2.json\n---\nCard two",
		"card1.json":   `{"type":"object","properties":{"x":{"type":"string"}},"required":["x"]}`,
		"card2.json":   `{"type":"object","properties":{"y":{"type":"number"}},"required":["y"]}`,
	})

	d, err := load(t, dir, "root.deck.md")
	require.NoError(t, err)
	require.NotNil(t, d.InputSchema)
	require.NotNil(t, d.InputSchema.Field("x"))
	require.NotNil(t, d.InputSchema.Field("y"))
	assert.True(t, d.InputSchema.Field("x").Required())
	assert.True(t, d.InputSchema.Field("y").Required())
	assert.Nil(t, d.OutputSchema)

	_, err = d.InputSchema.Validate(map[string]any{"x": "a"})
	assert.Error(t, err)
	assert.Equal(t, "Root\n\nCard one\n\nCard two", d.Prompt())
}

func TestLoad_DeckActionsWinOverCards(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{
		"root.deck.md": "---\nactions:\n  - name: foo\n    path: deck_foo.ts\n---\n![c](card.md)\n",
		"card.md":      "---\nactions:\n  - name: foo\n    path: card_foo.ts\n  - name: bar\n    path: bar.deck.md\n    description: Bar things\n---\n",
	})

	d, err := load(t, dir, "root.deck.md")
	require.NoError(t, err)

	foo, ok := d.Action("foo")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "deck_foo.ts"), foo.Path)

	bar, ok := d.Action("bar")
	require.True(t, ok)
	assert.Equal(t, "Bar things", bar.Description)
	assert.Equal(t, 2, d.Registry().Len())
}

func TestLoad_MarkersFromCards(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{
		"root.deck.md": "Root\n![c](card.md)\n",
		"card.md":      "![r](deckhand://snippets/respond)\n![i](deckhand://snippets/init)\n",
	})

	d, err := load(t, dir, "root.deck.md")
	require.NoError(t, err)
	assert.True(t, d.RespondEnabled)
	assert.True(t, d.InitHint)
	assert.Empty(t, d.Cards[0].Embeds)
}

func TestLoad_DiamondEmbedsFlattenOnce(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{
		"root.deck.md": "![b](b.md)\n![c](c.md)\n",
		"b.md":         "B\n![d](shared/d.md)\n",
		"c.md":         "C\n![d](shared/d.md)\n",
		"shared/d.md":  "D",
	})

	d, err := load(t, dir, "root.deck.md")
	require.NoError(t, err)
	var names []string
	for _, c := range d.Cards {
		names = append(names, filepath.Base(c.Path))
	}
	assert.Equal(t, []string{"b.md", "d.md", "c.md"}, names)
	assert.Same(t, d.Cards[0].Embeds[0], d.Cards[2].Embeds[0])
}

func TestLoad_Failures(t *testing.T) {
	tests := []struct {
		name   string
		files  map[string]string
		target any
		msg    string
	}{
		{
			name:   "handler in card",
			files:  map[string]string{"root.deck.md": "![c](card.md)", "card.md": "---\nhandlers:\n  onError:\n    path: h.deck.md\n---\n"},
			target: new(*HandlerInCardError),
			msg:    "handlers are only allowed on decks",
		},
		{
			name:   "missing action path",
			files:  map[string]string{"root.deck.md": "---\nactions:\n  - name: foo\n---\n"},
			target: new(*tool.ActionDefinitionError),
			msg:    `missing required field "path"`,
		},
		{
			name:   "reserved action name",
			files:  map[string]string{"root.deck.md": "---\nactions:\n  - name: deckhand_secret\n    path: x.md\n---\n"},
			target: new(*tool.ReservedActionNameError),
			msg:    "reserved prefix",
		},
		{
			name:   "invalid action name in card",
			files:  map[string]string{"root.deck.md": "![c](card.md)", "card.md": "---\nactions:\n  - name: 9lives\n    path: x.md\n---\n"},
			target: new(*tool.InvalidActionNameError),
			msg:    "9lives",
		},
		{
			name:   "missing deck schema",
			files:  map[string]string{"root.deck.md": "---\noutputSchema: nope.json\n---\n"},
			target: new(*SchemaError),
			msg:    "nope.json",
		},
		{
			name:   "broken card schema",
			files:  map[string]string{"root.deck.md": "![c](card.md)", "card.md": "---\ninputSchema: bad.json\n---\n", "bad.json": "{"},
			target: new(*SchemaError),
			msg:    "decode json schema",
		},
		{
			name:   "missing embed",
			files:  map[string]string{"root.deck.md": "![c](ghost.md)"},
			target: new(*DocumentError),
			msg:    "ghost.md",
		},
		{
			name:   "bad start mode",
			files:  map[string]string{"root.deck.md": "---\nstartMode: sideways\n---\n"},
			target: new(*DocumentError),
			msg:    "startMode",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := testutil.WriteFiles(t, tt.files)
			d, err := load(t, dir, "root.deck.md")
			require.Error(t, err)
			assert.Nil(t, d)
			assert.True(t, errors.As(err, tt.target), "got %T: %v", err, err)
			assert.Contains(t, err.Error(), tt.msg)
			assert.True(t, IsLoadError(err))
		})
	}
}

func TestLoad_MissingCardSchemaIsNonFatal(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{
		"root.deck.md": "![c](card.md)",
		"card.md":      "---\ninputSchema: absent.json\n---\nCard",
	})
	d, err := load(t, dir, "root.deck.md")
	require.NoError(t, err)
	assert.Nil(t, d.Cards[0].InputFragment)
	assert.Nil(t, d.InputSchema)
	// The missing module is still tracked so creating it reloads the deck.
	assert.Contains(t, d.Files(), filepath.Join(dir, "absent.json"))
}

func TestLoad_DeckHeaderFields(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{
		"decks/root.deck.md": strings.Join([]string{
			"---",
			"label: Support bot",
			"startMode: user",
			"modelParams:",
			"  model: gpt-4o-mini",
			"  temperature: 0.2",
			"  maxTokens: 256",
			"guardrails:",
			"  maxDepth: 3",
			"  maxPasses: 10",
			"  timeoutMs: 5000",
			"handlers:",
			"  onError:",
			"    path: ../handlers/error.deck.md",
			"  onInterval:",
			"    path: ../handlers/tick.deck.md",
			"    delayMs: 250",
			"testDecks:",
			"  - path: tests/happy.deck.md",
			"graderDecks:",
			"  - id: tone",
			"    label: Tone",
			"    path: graders/tone.deck.md",
			"---",
			"You help customers.",
		}, "\n"),
	})

	d, err := load(t, dir, "decks/root.deck.md")
	require.NoError(t, err)
	assert.Equal(t, "Support bot", d.Label)
	assert.Equal(t, StartModeUser, d.StartMode)
	assert.Equal(t, "gpt-4o-mini", d.ModelParams.Model)
	require.NotNil(t, d.ModelParams.Temperature)
	assert.InDelta(t, 0.2, *d.ModelParams.Temperature, 1e-9)
	assert.Equal(t, Guardrails{MaxDepth: 3, MaxPasses: 10, TimeoutMs: 5000}, d.Guardrails)
	assert.Equal(t, filepath.Join(dir, "handlers", "error.deck.md"), d.Handlers.OnError.Path)
	assert.Equal(t, 250, d.Handlers.OnInterval.DelayMs)
	require.Len(t, d.TestDecks, 1)
	assert.Equal(t, "happy.deck", d.TestDecks[0].ID)
	assert.Equal(t, filepath.Join(dir, "decks", "tests", "happy.deck.md"), d.TestDecks[0].Path)
	assert.Equal(t, "tone", d.GraderDecks[0].ID)
	assert.Equal(t, "You help customers.", d.Body)
}

func TestLoad_DefaultsToAssistantStart(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{"root.deck.md": "Hi"})
	d, err := load(t, dir, "root.deck.md")
	require.NoError(t, err)
	assert.Equal(t, StartModeAssistant, d.StartMode)
	assert.False(t, d.RespondEnabled)
}

func TestLoad_CanceledContext(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{"root.deck.md": "![c](card.md)", "card.md": "C"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLoader().Load(ctx, filepath.Join(dir, "root.deck.md"))
	assert.ErrorIs(t, err, context.Canceled)
}
