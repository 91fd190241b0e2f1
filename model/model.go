package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/deckhand/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Params carries per-deck generation parameters. Zero values mean "use the
// adapter default".
type Params struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int64    `json:"maxTokens,omitempty"`
	TopP        *float64 `json:"topP,omitempty"`
}

// Request captures the normalized model input produced by the engine. The
// first message is typically the system prompt; tool messages answer the
// tool calls of the preceding assistant message.
type Request struct {
	Messages []core.Message   `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	Stream   bool             `json:"stream,omitempty"`
	Params   Params           `json:"params"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a streaming model.
// Partial responses carry a text delta in Message.Content; the final response
// carries the complete assistant message including tool calls.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Message      core.Message `json:"message"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "scripted", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the capability the engine drives generation through.
//
// Implementations must close both channels when done and must stop promptly
// when ctx is canceled, reporting ctx.Err() on the error channel.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ErrScriptExhausted is returned by ScriptedModel when more calls are made
// than steps were scripted.
var ErrScriptExhausted = errors.New("scripted model: no more steps")

// Step produces the assistant message for one scripted model call.
type Step func(ctx context.Context, req Request) (core.Message, error)

// Reply scripts a plain assistant text reply.
func Reply(text string) Step {
	return func(context.Context, Request) (core.Message, error) {
		return core.AssistantMessage(text), nil
	}
}

// CallTool scripts an assistant message requesting a single tool call. args is
// JSON encoded; a nil args produces an empty argument string.
func CallTool(id, name string, args any) Step {
	return func(context.Context, Request) (core.Message, error) {
		raw := ""
		if args != nil {
			b, err := json.Marshal(args)
			if err != nil {
				return core.Message{}, err
			}
			raw = string(b)
		}
		return core.AssistantMessage("", core.ToolCall{ID: id, Name: name, Arguments: raw}), nil
	}
}

// Fail scripts a provider failure.
func Fail(err error) Step {
	return func(context.Context, Request) (core.Message, error) { return core.Message{}, err }
}

// BlockUntilCanceled scripts a call that never completes on its own. started
// (if non-nil) is closed once the call is in flight.
func BlockUntilCanceled(started chan<- struct{}) Step {
	return func(ctx context.Context, _ Request) (core.Message, error) {
		if started != nil {
			close(started)
		}
		<-ctx.Done()
		return core.Message{}, ctx.Err()
	}
}

// ScriptedModel is a deterministic in-memory Model useful for tests and
// examples. Each Generate call consumes the next scripted Step.
type ScriptedModel struct {
	info  Info
	mu    sync.Mutex
	steps []Step
	calls []Request
}

// NewScriptedModel constructs a ScriptedModel that plays steps in order.
func NewScriptedModel(steps ...Step) *ScriptedModel {
	return &ScriptedModel{
		info:  Info{Name: "scripted", Provider: "scripted", SupportsTools: true},
		steps: steps,
	}
}

// Push appends further steps to the script.
func (m *ScriptedModel) Push(steps ...Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
}

// Calls returns the requests received so far.
func (m *ScriptedModel) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// Generate implements Model; streams the reply text as one partial chunk
// before the final response when req.Stream is set.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 2)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.calls = append(m.calls, req)
	var step Step
	if len(m.steps) > 0 {
		step = m.steps[0]
		m.steps = m.steps[1:]
	}
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)
		if step == nil {
			errCh <- ErrScriptExhausted
			return
		}
		msg, err := step(ctx, req)
		if err != nil {
			errCh <- fmt.Errorf("scripted model: %w", err)
			return
		}
		if req.Stream && msg.Content != "" {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case respCh <- Response{Partial: true, Message: core.AssistantMessage(msg.Content)}:
			}
		}
		finish := "stop"
		if msg.HasToolCalls() {
			finish = "tool_calls"
		}
		respCh <- Response{Message: msg, FinishReason: finish}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *ScriptedModel) Info() Info { return m.info }
