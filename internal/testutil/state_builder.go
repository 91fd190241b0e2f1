package testutil

import (
	"github.com/hupe1980/deckhand/core"
)

// StateBuilder helps construct run states with fluent chaining for tests.
// Example:
//
//	state := NewStateBuilder("run-1").User("hi").Assistant("hello").Meta("deckPath", p).Build()
type StateBuilder struct {
	state core.RunState
}

// NewStateBuilder creates a builder for an empty state of runID.
func NewStateBuilder(runID string) *StateBuilder {
	return &StateBuilder{state: core.NewRunState(runID)}
}

// User appends a manual user message (chainable).
func (b *StateBuilder) User(text string) *StateBuilder {
	b.state = b.state.WithMessage(core.UserMessage(text), core.RefSourceManual)
	return b
}

// Assistant appends an assistant message, optionally requesting tool calls (chainable).
func (b *StateBuilder) Assistant(text string, calls ...core.ToolCall) *StateBuilder {
	b.state = b.state.WithMessage(core.AssistantMessage(text, calls...), core.RefSourceScenario)
	return b
}

// ToolResult appends the tool message answering callID (chainable).
func (b *StateBuilder) ToolResult(callID, name, content string) *StateBuilder {
	b.state = b.state.WithMessage(core.ToolMessage(callID, name, content), core.RefSourceScenario)
	return b
}

// Meta sets a meta key (chainable).
func (b *StateBuilder) Meta(key string, value any) *StateBuilder {
	b.state = b.state.WithMeta(key, value)
	return b
}

// Build returns the assembled state.
func (b *StateBuilder) Build() core.RunState {
	return b.state.Clone()
}
