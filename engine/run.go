package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hupe1980/deckhand/core"
	"github.com/hupe1980/deckhand/deck"
	"github.com/hupe1980/deckhand/logging"
	"github.com/hupe1980/deckhand/model"
	"github.com/hupe1980/deckhand/tool"
)

// runOutput is what a finished run hands back to its caller.
type runOutput struct {
	value        any
	responded    bool
	awaitingUser bool
}

// run is the state of one deck execution: the root run or a nested action,
// handler run. Only the root run has output channels; nested runs share the
// root's tracer so their traces land in the same call tree.
type run struct {
	engine *Engine
	deck   *deck.Deck
	model  model.Model
	logger logging.Logger
	tracer *tracer

	runID              string
	actionCallID       string
	parentActionCallID string
	depth              int
	maxDepth           int

	root   bool
	stream bool
	states chan<- core.RunState
	text   chan<- string

	limiter *core.PassLimiter
	state   core.RunState
}

func (e *Engine) newRun(d *deck.Deck, m model.Model, runID string, tr *tracer) *run {
	maxPasses := d.Guardrails.MaxPasses
	if maxPasses == 0 {
		maxPasses = e.config.MaxPasses
	}
	maxDepth := d.Guardrails.MaxDepth
	if maxDepth == 0 {
		maxDepth = e.config.MaxDepth
	}
	return &run{
		engine:   e,
		deck:     d,
		model:    m,
		logger:   e.logger,
		tracer:   tr,
		runID:    runID,
		maxDepth: maxDepth,
		limiter:  core.NewPassLimiter(maxPasses),
		state:    core.NewRunState(runID),
	}
}

// child creates the nested run for an action call. The depth limit of the
// root run applies to the whole tree.
func (r *run) child(d *deck.Deck, actionCallID string) *run {
	c := r.engine.newRun(d, r.model, r.runID, r.tracer)
	c.actionCallID = actionCallID
	c.parentActionCallID = r.actionCallID
	c.depth = r.depth + 1
	c.maxDepth = r.maxDepth
	return c
}

func (r *run) trace(typ core.TraceType, fn func(ev *core.TraceEvent)) core.TraceEvent {
	ev := core.NewTraceEvent(typ, r.runID)
	ev.ActionCallID = r.actionCallID
	ev.ParentActionCallID = r.parentActionCallID
	ev.DeckPath = r.deck.Path
	if fn != nil {
		fn(&ev)
	}
	return ev
}

// snapshot returns the current state; the root run's snapshot carries the
// traces of the whole call tree.
func (r *run) snapshot() core.RunState {
	s := r.state
	if r.root {
		s.Traces = r.tracer.snapshot()
	}
	return s
}

// appendMessage records m and emits the new snapshot.
func (r *run) appendMessage(m core.Message, source core.RefSource) {
	r.state = r.state.WithMessage(m, source)
	if r.states != nil {
		r.states <- r.snapshot()
	}
}

func (r *run) addUserMessage(text string) {
	r.appendMessage(core.UserMessage(text), core.RefSourceManual)
	r.tracer.emit(r.trace(core.TraceUserMessage, func(ev *core.TraceEvent) { ev.Message = text }))
}

func (r *run) hasUserMessage() bool {
	for _, m := range r.state.Messages {
		if m.Role == core.RoleUser {
			return true
		}
	}
	return false
}

// execute drives the root run.
func (r *run) execute(ctx context.Context, req Request) (out runOutput, err error) {
	r.tracer.emit(r.trace(core.TraceDeckStart, nil))
	defer func() {
		r.tracer.emit(r.trace(core.TraceDeckEnd, func(ev *core.TraceEvent) {
			ev.Output = out.value
			if err != nil {
				ev.Error = err.Error()
			}
		}))
	}()

	if req.PriorState != nil {
		r.state = req.PriorState.Normalize().Clone()
		r.state.RunID = r.runID
		if req.InitialUserMessage != "" {
			r.addUserMessage(req.InitialUserMessage)
		} else if out, ok := r.settled(); ok {
			return out, nil
		}
	} else {
		r.state = r.state.WithMeta("deckPath", r.deck.Path)
		input, err := r.rootInput(req)
		if err != nil {
			return runOutput{}, err
		}
		r.begin(input)
		if req.InitialUserMessage != "" {
			r.addUserMessage(req.InitialUserMessage)
		}
	}

	if r.deck.StartMode == deck.StartModeUser && !r.hasUserMessage() {
		r.logger.Debug("engine.run.awaiting_user", "run_id", r.runID, "deck", r.deck.Path)
		return runOutput{awaitingUser: true}, nil
	}
	return r.loop(ctx)
}

// settled reports whether a resumed history has nothing left to answer: it
// ends in a plain assistant message, or in the results of a turn that
// responded.
func (r *run) settled() (runOutput, bool) {
	last, ok := r.state.LastMessage()
	if !ok {
		return runOutput{}, false
	}
	if last.Role == core.RoleAssistant && !last.HasToolCalls() {
		return runOutput{value: last.Content}, true
	}
	resp, ok := r.state.Meta[metaResponse].(map[string]any)
	if !ok {
		return runOutput{}, false
	}
	callID, _ := resp["callId"].(string)
	for i := len(r.state.Messages) - 1; i >= 0; i-- {
		m := r.state.Messages[i]
		if m.Role == core.RoleTool {
			continue
		}
		if m.Role != core.RoleAssistant {
			return runOutput{}, false
		}
		for _, call := range m.ToolCalls {
			if call.ID == callID {
				return runOutput{value: resp["payload"], responded: true}, true
			}
		}
		return runOutput{}, false
	}
	return runOutput{}, false
}

// rootInput validates the root input. When validation fails and no input was
// explicitly supplied, it retries once with an empty string so decks whose
// input schema is a bare string can start without input.
func (r *run) rootInput(req Request) (any, error) {
	if !req.InputProvided && r.deck.InputSchema == nil {
		return req.Input, nil
	}
	v, err := r.deck.InputSchema.Validate(req.Input)
	if err == nil {
		return v, nil
	}
	if req.InputProvided {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	v, retryErr := r.deck.InputSchema.Validate("")
	if retryErr != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	r.logger.Debug("engine.input.empty_retry", "run_id", r.runID, "deck", r.deck.Path)
	return v, nil
}

// executeNested runs an action or handler deck with input, optionally seeded
// with a user message.
func (r *run) executeNested(ctx context.Context, input any, seed string) (out runOutput, err error) {
	r.tracer.emit(r.trace(core.TraceDeckStart, func(ev *core.TraceEvent) { ev.Input = input }))
	defer func() {
		r.tracer.emit(r.trace(core.TraceDeckEnd, func(ev *core.TraceEvent) {
			ev.Output = out.value
			if err != nil {
				ev.Error = err.Error()
			}
		}))
	}()

	if input != nil {
		v, err := r.deck.InputSchema.Validate(input)
		if err != nil {
			return runOutput{}, fmt.Errorf("invalid input: %w", err)
		}
		input = v
	}
	r.begin(input)
	if seed != "" {
		r.appendMessage(core.UserMessage(seed), core.RefSourceScenario)
	}
	return r.loop(ctx)
}

// begin seeds a fresh history. Decks with the init hint receive the input
// inside an injected init tool call/result pair; others get it as a user
// message.
func (r *run) begin(input any) {
	if r.deck.InitHint {
		callID := core.NewID()
		payload := map[string]any{"runId": r.runID, "deckPath": r.deck.Path, "input": input}
		if r.actionCallID != "" {
			payload["actionCallId"] = r.actionCallID
		}
		r.appendMessage(core.AssistantMessage("", core.ToolCall{ID: callID, Name: tool.InitToolName, Arguments: "{}"}), core.RefSourceScenario)
		r.appendMessage(core.ToolMessage(callID, tool.InitToolName, stringify(payload)), core.RefSourceScenario)
		return
	}
	if text := stringify(input); text != "" {
		r.appendMessage(core.UserMessage(text), core.RefSourceScenario)
	}
}

// loop runs model turns until the deck responds, completes naturally or fails.
func (r *run) loop(ctx context.Context) (runOutput, error) {
	for {
		if err := ctx.Err(); err != nil {
			return runOutput{}, contextError(err)
		}
		if err := r.limiter.Increment(); err != nil {
			return runOutput{}, &GuardrailError{Name: "maxPasses", Limit: r.limiter.Max(), Err: err}
		}

		msg, err := r.callModel(ctx)
		if err != nil {
			return runOutput{}, err
		}
		r.appendMessage(msg, core.RefSourceScenario)

		if !msg.HasToolCalls() {
			return runOutput{value: msg.Content}, nil
		}
		for i, call := range msg.ToolCalls {
			out, done, err := r.dispatch(ctx, call)
			if err != nil {
				// the failing call never got a result
				r.skipCalls(msg.ToolCalls[i:])
				return runOutput{}, err
			}
			if done {
				r.skipCalls(msg.ToolCalls[i+1:])
				return out, nil
			}
		}
	}
}

// callModel performs one model turn and returns the assistant message.
func (r *run) callModel(ctx context.Context) (core.Message, error) {
	req := model.Request{
		Tools:  r.tools(ctx),
		Stream: r.stream,
		Params: model.Params{
			Model:       r.deck.ModelParams.Model,
			Temperature: r.deck.ModelParams.Temperature,
			MaxTokens:   r.deck.ModelParams.MaxTokens,
			TopP:        r.deck.ModelParams.TopP,
		},
	}
	if prompt := r.deck.Prompt(); prompt != "" {
		req.Messages = append(req.Messages, core.SystemMessage(prompt))
	}
	req.Messages = append(req.Messages, r.state.Messages...)

	r.tracer.emit(r.trace(core.TraceModelCall, func(ev *core.TraceEvent) {
		ev.MessageCount = len(req.Messages)
		ev.ToolCount = len(req.Tools)
	}))

	start := time.Now()
	respCh, errCh := r.model.Generate(ctx, req)

	var (
		final  *model.Response
		genErr error
	)
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				if r.text != nil && resp.Message.Content != "" {
					r.text <- resp.Message.Content
				}
				continue
			}
			final = &resp
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil && genErr == nil {
				genErr = err
			}
		}
	}

	tokens := 0
	if final != nil && final.Usage != nil {
		tokens = final.Usage.TotalTokens
	}
	if dl, ok := r.logger.(*logging.DeckLogger); ok {
		dl.WithRun(r.runID, r.actionCallID).LogModelCall(r.model.Info().Name, tokens, time.Since(start), genErr == nil, genErr)
	}

	if err := ctx.Err(); err != nil {
		return core.Message{}, contextError(err)
	}
	if genErr != nil {
		return core.Message{}, &CapabilityError{Op: "model", Name: r.model.Info().Name, Err: genErr}
	}
	if final == nil {
		return core.Message{}, &CapabilityError{Op: "model", Name: r.model.Info().Name, Err: errors.New("no final response")}
	}

	msg := final.Message
	msg.Role = core.RoleAssistant
	msg.ToolCalls = slices.Clone(msg.ToolCalls)
	for i := range msg.ToolCalls {
		if msg.ToolCalls[i].ID == "" {
			msg.ToolCalls[i].ID = core.NewID()
		}
	}

	r.tracer.emit(r.trace(core.TraceModelResult, func(ev *core.TraceEvent) {
		ev.FinishReason = final.FinishReason
		ev.ToolCount = len(msg.ToolCalls)
		ev.Message = msg.Content
	}))
	return msg, nil
}

// contextError maps a done context to the run's terminal error.
func contextError(err error) error {
	if errors.Is(err, context.Canceled) {
		return core.ErrRunCanceled
	}
	return fmt.Errorf("run timed out: %w", err)
}
