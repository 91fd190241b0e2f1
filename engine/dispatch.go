package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hupe1980/deckhand/core"
	"github.com/hupe1980/deckhand/logging"
	"github.com/hupe1980/deckhand/tool"
)

// metaResponse is the state meta key holding the call id and payload of the
// last successful respond call.
const metaResponse = "response"

var errNotExecuted = errors.New("not executed: the run ended before this call")

// dispatch handles one tool call. done reports that the run ended through the
// respond tool. A non-nil error is terminal for the calling run: only
// cancellation and timeouts propagate, every other failure becomes a tool
// result the model can react to.
func (r *run) dispatch(ctx context.Context, call core.ToolCall) (runOutput, bool, error) {
	r.tracer.emit(r.trace(core.TraceToolCall, func(ev *core.TraceEvent) {
		ev.ActionCallID = call.ID
		ev.ParentActionCallID = r.actionCallID
		ev.Name = call.Name
		ev.Input = call.Arguments
	}))

	switch {
	case call.Name == tool.RespondToolName && r.deck.RespondEnabled:
		return r.respond(call)
	case call.Name == tool.InitToolName:
		r.toolResult(call, map[string]any{"runId": r.runID, "deckPath": r.deck.Path})
		return runOutput{}, false, nil
	}

	action, ok := r.deck.Action(call.Name)
	if !ok {
		r.toolError(call, fmt.Errorf("unknown tool %q", call.Name))
		return runOutput{}, false, nil
	}
	return runOutput{}, false, r.callAction(ctx, call, action)
}

// respond validates the payload against the output schema. A failing payload
// is reported back to the model and the run continues.
func (r *run) respond(call core.ToolCall) (runOutput, bool, error) {
	args, err := parseArgs(call.Arguments)
	if err != nil {
		r.toolError(call, err)
		return runOutput{}, false, nil
	}
	payload := args
	if obj, ok := args.(map[string]any); ok {
		if p, ok := obj["payload"]; ok {
			payload = p
		}
	}
	v, err := r.deck.OutputSchema.Validate(payload)
	if err != nil {
		r.logger.Debug("engine.respond.invalid", "run_id", r.runID, "error", err)
		r.toolError(call, err)
		return runOutput{}, false, nil
	}
	r.state = r.state.WithMeta(metaResponse, map[string]any{"callId": call.ID, "payload": v})
	r.toolResult(call, v)
	return runOutput{value: v, responded: true}, true, nil
}

// skipCalls answers tool calls left over when a turn ends early, so every
// assistant tool call in the history keeps a paired tool message.
func (r *run) skipCalls(calls []core.ToolCall) {
	for _, call := range calls {
		r.toolError(call, errNotExecuted)
	}
}

// callAction runs the action's deck as a nested run and appends its result.
func (r *run) callAction(ctx context.Context, call core.ToolCall, action tool.Action) error {
	if r.depth+1 > r.maxDepth {
		r.toolError(call, &GuardrailError{Name: "maxDepth", Limit: r.maxDepth})
		return nil
	}

	d, err := r.engine.arena.Get(ctx, action.Path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contextError(ctxErr)
		}
		r.toolError(call, &CapabilityError{Op: "action", Name: action.Name, Err: err})
		return nil
	}

	args, err := parseArgs(call.Arguments)
	if err != nil {
		r.toolError(call, err)
		return nil
	}
	var (
		input any
		seed  string
	)
	if !emptyArgs(args) {
		input = args
	} else {
		seed, _ = r.state.LastConversational()
	}

	stop := r.startInterval(ctx, action)
	start := time.Now()
	out, err := r.runChild(ctx, r.child(d, call.ID), input, seed)
	stop()

	if dl, ok := r.logger.(*logging.DeckLogger); ok {
		dl.WithRun(r.runID, call.ID).LogActionCall(action.Name, time.Since(start), err == nil, err)
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contextError(ctxErr)
		}
		if core.IsCanceled(err) {
			return core.ErrRunCanceled
		}
		r.toolError(call, &CapabilityError{Op: "action", Name: action.Name, Err: err})
		return nil
	}
	r.toolResult(call, out.value)
	return nil
}

// runChild executes a nested run, converting a panic into an error so a
// misbehaving deck cannot take down its parent.
func (r *run) runChild(ctx context.Context, c *run, input any, seed string) (out runOutput, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("engine.action.panic", "run_id", r.runID, "deck", c.deck.Path, "recover", rec)
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return c.executeNested(ctx, input, seed)
}

func (r *run) toolResult(call core.ToolCall, value any) {
	r.appendMessage(core.ToolMessage(call.ID, call.Name, stringify(value)), core.RefSourceScenario)
	r.tracer.emit(r.trace(core.TraceToolResult, func(ev *core.TraceEvent) {
		ev.ActionCallID = call.ID
		ev.ParentActionCallID = r.actionCallID
		ev.Name = call.Name
		ev.Output = value
	}))
}

func (r *run) toolError(call core.ToolCall, err error) {
	r.appendMessage(core.ToolMessage(call.ID, call.Name, stringify(map[string]any{"error": err.Error()})), core.RefSourceScenario)
	r.tracer.emit(r.trace(core.TraceToolResult, func(ev *core.TraceEvent) {
		ev.ActionCallID = call.ID
		ev.ParentActionCallID = r.actionCallID
		ev.Name = call.Name
		ev.Error = err.Error()
	}))
}

// parseArgs decodes a JSON argument string. Empty arguments decode to nil.
func parseArgs(raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return v, nil
}

func emptyArgs(v any) bool {
	if v == nil {
		return true
	}
	obj, ok := v.(map[string]any)
	return ok && len(obj) == 0
}

// stringify renders a value as tool or message text: strings verbatim,
// everything else as JSON.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
