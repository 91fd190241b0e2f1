package tool

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------- Name Validation Tests --------------------

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr any
	}{
		{name: "simple", input: "lookup_weather"},
		{name: "dash allowed", input: "get-user"},
		{name: "respond synthetic", input: RespondToolName},
		{name: "init synthetic", input: InitToolName},
		{name: "leading digit", input: "1abc", wantErr: &InvalidActionNameError{}},
		{name: "space", input: "has space", wantErr: &InvalidActionNameError{}},
		{name: "too long", input: strings.Repeat("a", MaxNameLength+1), wantErr: &InvalidActionNameError{}},
		{name: "reserved prefix", input: "deckhand_secret", wantErr: &ReservedActionNameError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input, "test.deck.md")
			switch tt.wantErr.(type) {
			case nil:
				assert.NoError(t, err)
			case *InvalidActionNameError:
				var target *InvalidActionNameError
				assert.True(t, errors.As(err, &target), "got %v", err)
			case *ReservedActionNameError:
				var target *ReservedActionNameError
				assert.True(t, errors.As(err, &target), "got %v", err)
			}
		})
	}
}

func TestAction_ValidateMissingFields(t *testing.T) {
	err := Action{Path: "x.deck.md"}.Validate("root.deck.md")
	var defErr *ActionDefinitionError
	require.True(t, errors.As(err, &defErr))
	assert.Equal(t, "name", defErr.Field)

	err = Action{Name: "foo"}.Validate("root.deck.md")
	require.True(t, errors.As(err, &defErr))
	assert.Equal(t, "path", defErr.Field)
	assert.Contains(t, err.Error(), `"foo"`)
}

// -------------------- Registry Tests --------------------

func TestRegistry_LastWriteWins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(Action{Name: "foo", Path: "card_foo.ts"}, "card.md"))
	require.NoError(t, r.Add(Action{Name: "bar", Path: "bar.ts"}, "card.md"))
	require.NoError(t, r.Add(Action{Name: "foo", Path: "deck_foo.ts"}, "deck.md"))

	assert.Equal(t, 2, r.Len())
	foo, ok := r.Get("foo")
	require.True(t, ok)
	assert.Equal(t, "deck_foo.ts", foo.Path)

	list := r.List()
	assert.Equal(t, "foo", list[0].Name, "position of first insertion is kept")
	assert.Equal(t, "bar", list[1].Name)
}

func TestRegistry_Merge(t *testing.T) {
	cards := NewRegistry()
	require.NoError(t, cards.Add(Action{Name: "foo", Path: "card_foo.ts"}, "card.md"))

	own := NewRegistry()
	require.NoError(t, own.Add(Action{Name: "foo", Path: "deck_foo.ts"}, "deck.md"))

	merged := NewRegistry()
	merged.Merge(cards)
	merged.Merge(own)
	merged.Merge(nil)

	foo, ok := merged.Get("foo")
	require.True(t, ok)
	assert.Equal(t, "deck_foo.ts", foo.Path)
}

func TestRegistry_AddRejectsInvalid(t *testing.T) {
	r := NewRegistry()
	err := r.Add(Action{Name: "deckhand_x", Path: "x.md"}, "deck.md")
	var reserved *ReservedActionNameError
	assert.True(t, errors.As(err, &reserved))
	assert.Equal(t, 0, r.Len())
}
