package openai

import (
	"testing"

	"github.com/hupe1980/deckhand/core"
	"github.com/hupe1980/deckhand/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessages_KeepsToolResultsInPlace(t *testing.T) {
	msgs := buildMessages([]core.Message{
		core.SystemMessage("sys"),
		core.UserMessage("hi"),
		core.AssistantMessage("", core.ToolCall{ID: "c1", Name: "lookup"}),
		core.ToolMessage("c1", "lookup", `{"ok":true}`),
		core.AssistantMessage("bye"),
	})

	require.Len(t, msgs, 5)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	require.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "{}", msgs[2].OfAssistant.ToolCalls[0].Function.Arguments)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "c1", msgs[3].OfTool.ToolCallID)
	assert.NotNil(t, msgs[4].OfAssistant)
}

func TestBuildParams_RequestOverrides(t *testing.T) {
	m := NewModel(func(o *Options) { o.APIKey = "test" })
	temp := 0.1
	params := m.buildParams(model.Request{
		Params: model.Params{Model: "gpt-test", Temperature: &temp, MaxTokens: 12},
		Tools: []model.ToolDefinition{{Type: "function", Function: model.FunctionDefinition{
			Name: "lookup", Parameters: map[string]any{"type": "object"},
		}}},
	}, nil)

	assert.Equal(t, "gpt-test", string(params.Model))
	assert.Equal(t, 0.1, params.Temperature.Value)
	assert.Equal(t, int64(12), params.MaxCompletionTokens.Value)
	require.Len(t, params.Tools, 1)
	assert.Equal(t, "lookup", params.Tools[0].Function.Name)
}

func TestFinalToolCalls_OrderedByIndex(t *testing.T) {
	calls := finalToolCalls(map[int64]*aggCall{
		1: {id: "b", name: "second"},
		0: {id: "a", name: "first", args: `{}`},
	})
	require.Len(t, calls, 2)
	assert.Equal(t, "first", calls[0].Name)
	assert.Equal(t, "second", calls[1].Name)
}
