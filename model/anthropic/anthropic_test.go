package anthropic

import (
	"testing"

	"github.com/hupe1980/deckhand/core"
	"github.com/hupe1980/deckhand/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessages_GroupsToolResults(t *testing.T) {
	msgs := buildMessages([]core.Message{
		core.SystemMessage("sys"),
		core.UserMessage("hi"),
		core.AssistantMessage("checking",
			core.ToolCall{ID: "c1", Name: "a", Arguments: `{"x":1}`},
			core.ToolCall{ID: "c2", Name: "b"},
		),
		core.ToolMessage("c1", "a", "one"),
		core.ToolMessage("c2", "b", "two"),
		core.AssistantMessage("done"),
	})

	// user, assistant(tool_use x2), user(tool_result x2), assistant
	require.Len(t, msgs, 4)
	assert.Len(t, msgs[1].Content, 3)
	assert.Len(t, msgs[2].Content, 2)
	assert.Equal(t, "c1", msgs[2].Content[0].OfToolResult.ToolUseID)
}

func TestSystemBlocks(t *testing.T) {
	blocks := systemBlocks([]core.Message{core.SystemMessage("a"), core.UserMessage("b"), core.SystemMessage("")})
	require.Len(t, blocks, 1)
	assert.Equal(t, "a", blocks[0].Text)
}

func TestBuildTools_RequiredFromAnySlice(t *testing.T) {
	tools := buildTools([]model.ToolDefinition{{Function: model.FunctionDefinition{
		Name:        "lookup",
		Description: "Look things up",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"q": map[string]any{"type": "string"}},
			"required":   []any{"q"},
		},
	}}})
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, []string{"q"}, tools[0].OfTool.InputSchema.Required)
	assert.Equal(t, "lookup", tools[0].OfTool.Name)
}
