package model

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/deckhand/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, respCh <-chan Response, errCh <-chan error) ([]Response, error) {
	t.Helper()
	var out []Response
	for r := range respCh {
		out = append(out, r)
	}
	return out, <-errCh
}

func TestScriptedModel_PlaysStepsInOrder(t *testing.T) {
	m := NewScriptedModel(
		CallTool("c1", "lookup", map[string]any{"q": "x"}),
		Reply("done"),
	)

	respCh, errCh := m.Generate(context.Background(), Request{})
	resps, err := collect(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, resps, 1)
	assert.Equal(t, "tool_calls", resps[0].FinishReason)
	assert.Equal(t, `{"q":"x"}`, resps[0].Message.ToolCalls[0].Arguments)

	respCh, errCh = m.Generate(context.Background(), Request{Stream: true})
	resps, err = collect(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, resps, 2)
	assert.True(t, resps[0].Partial)
	assert.Equal(t, "done", resps[1].Message.Content)
	assert.Equal(t, "stop", resps[1].FinishReason)

	respCh, errCh = m.Generate(context.Background(), Request{})
	_, err = collect(t, respCh, errCh)
	assert.ErrorIs(t, err, ErrScriptExhausted)
	assert.Len(t, m.Calls(), 3)
}

func TestScriptedModel_Fail(t *testing.T) {
	boom := errors.New("boom")
	m := NewScriptedModel(Fail(boom))
	respCh, errCh := m.Generate(context.Background(), Request{})
	_, err := collect(t, respCh, errCh)
	assert.ErrorIs(t, err, boom)
}

func TestScriptedModel_BlockUntilCanceled(t *testing.T) {
	started := make(chan struct{})
	m := NewScriptedModel(BlockUntilCanceled(started))
	ctx, cancel := context.WithCancel(context.Background())

	respCh, errCh := m.Generate(ctx, Request{Messages: []core.Message{core.UserMessage("hi")}})
	<-started
	cancel()

	_, err := collect(t, respCh, errCh)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "scripted", m.Info().Provider)
}
