package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/deckhand/core"
	"github.com/hupe1980/deckhand/deck"
	"github.com/hupe1980/deckhand/logging"
	"github.com/hupe1980/deckhand/model"
)

// Config defines the guardrail defaults applied when a deck does not set its own.
//
// Example:
//
//	cfg := Config{
//	    MaxPasses: 50,
//	    MaxDepth:  4,
//	}
type Config struct {
	// MaxPasses bounds the number of model calls a single run (root or
	// nested) may make.
	MaxPasses int

	// MaxDepth bounds how deeply action decks may nest. The root run is
	// depth 0.
	MaxDepth int

	// IntervalDelay is the onInterval period used when a handler omits delayMs.
	IntervalDelay time.Duration

	// HandlerTimeout bounds an onError handler run. The handler runs after
	// the root context may already be done, so it gets its own deadline.
	HandlerTimeout time.Duration
}

// DefaultConfig provides the guardrail defaults:
//   - MaxPasses: 100
//   - MaxDepth: 8
//   - IntervalDelay: 1s
//   - HandlerTimeout: 60s
var DefaultConfig = Config{
	MaxPasses:      100,
	MaxDepth:       8,
	IntervalDelay:  time.Second,
	HandlerTimeout: time.Minute,
}

// Options configures an Engine instance using the functional options pattern.
//
// Example:
//
//	eng := engine.New(func(o *engine.Options) {
//	    o.Model = openai.NewModel()
//	    o.Logger = logger
//	})
type Options struct {
	// Config contains the guardrail defaults. Defaults to DefaultConfig.
	Config Config

	// Model is used when a Request does not carry its own model.
	Model model.Model

	// Arena resolves action and handler decks by path. Defaults to a fresh
	// Arena over a Loader sharing the engine logger.
	Arena *deck.Arena

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Engine runs decks. It holds no per-run state, so one Engine serves any
// number of concurrent runs.
type Engine struct {
	config Config
	model  model.Model
	arena  *deck.Arena
	logger logging.Logger
}

// New creates a new Engine.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Arena == nil {
		logger := opts.Logger
		opts.Arena = deck.NewArena(deck.NewLoader(func(o *deck.Options) { o.Logger = logger }))
	}
	return &Engine{
		config: opts.Config,
		model:  opts.Model,
		arena:  opts.Arena,
		logger: opts.Logger,
	}
}

// Arena returns the deck cache used for action and handler decks.
func (e *Engine) Arena() *deck.Arena { return e.arena }

// Request describes one root run.
//
// Output channels: every non-nil channel receives values in order through
// blocking sends, so the caller must drain each of them until Run returns.
// States receives a new immutable snapshot after every history mutation; Text
// receives streamed assistant text of the root deck; Traces receives the trace
// events of the whole call tree.
type Request struct {
	// Deck is the loaded deck to run. When nil, DeckPath is resolved through
	// the engine's Arena.
	Deck     *deck.Deck
	DeckPath string

	// Input is the root input. InputProvided marks it as explicitly supplied,
	// which disables the one-shot empty-string retry.
	Input         any
	InputProvided bool

	// InitialUserMessage is appended as a user message before the first turn.
	InitialUserMessage string

	// PriorState resumes an existing conversation. Input validation is skipped.
	PriorState *core.RunState

	// Model overrides the engine's default model.
	Model model.Model

	// Stream requests incremental text from the model.
	Stream bool

	States chan<- core.RunState
	Text   chan<- string
	Traces chan<- core.TraceEvent

	// RunID names the run. Generated when empty; a PriorState's id wins.
	RunID string
}

// Result is the terminal outcome of a run.
type Result struct {
	RunID  string         `json:"runId"`
	Status core.RunStatus `json:"status"`

	// Output is the validated respond payload when Responded, otherwise the
	// last assistant text.
	Output    any  `json:"output,omitempty"`
	Responded bool `json:"responded,omitempty"`

	// AwaitingUser is set when a user-first deck was started without a user
	// message; no model call was made.
	AwaitingUser bool `json:"awaitingUser,omitempty"`

	// Error carries the terminal error message for Status error.
	Error string `json:"error,omitempty"`

	State core.RunState `json:"state"`
}

// Run executes a deck until it responds, completes naturally, is canceled or
// fails. It always returns a Result whose Status reflects the outcome; the
// error is nil only for completed runs. Cancellation yields an error matching
// core.ErrRunCanceled.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	runID := req.RunID
	if req.PriorState != nil && req.PriorState.RunID != "" {
		runID = req.PriorState.RunID
	}
	if runID == "" {
		runID = core.NewID()
	}
	result := &Result{RunID: runID, Status: core.RunStatusRunning}

	fail := func(err error) (*Result, error) {
		result.Status = core.StatusFromError(err)
		if result.Status == core.RunStatusError {
			result.Error = err.Error()
		}
		return result, err
	}

	d := req.Deck
	if d == nil {
		var err error
		if d, err = e.arena.Get(ctx, req.DeckPath); err != nil {
			return fail(fmt.Errorf("load deck: %w", err))
		}
	} else if d.Path != "" {
		// Action decks that point back at the root resolve to this instance.
		e.arena.Put(d)
	}
	m := req.Model
	if m == nil {
		m = e.model
	}
	if m == nil {
		return fail(&CapabilityError{Op: "model", Err: fmt.Errorf("no model configured")})
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if d.Guardrails.TimeoutMs > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, time.Duration(d.Guardrails.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	tr := newTracer(req.Traces, req.PriorState)
	r := e.newRun(d, m, runID, tr)
	r.root = true
	r.stream = req.Stream
	r.states = req.States
	r.text = req.Text

	start := time.Now()
	tr.emit(r.trace(core.TraceRunStart, func(ev *core.TraceEvent) { ev.Input = req.Input }))

	out, err := r.execute(runCtx, req)

	if err != nil && !core.IsCanceled(err) {
		r.handleError(ctx, err)
	}

	result.State = r.snapshot()
	result.Output = out.value
	result.Responded = out.responded
	result.AwaitingUser = out.awaitingUser
	result.Status = core.StatusFromError(err)
	if result.Status == core.RunStatusError {
		result.Error = err.Error()
	}

	tr.emit(r.trace(core.TraceRunEnd, func(ev *core.TraceEvent) {
		ev.Output = out.value
		ev.Error = result.Error
		ev.Meta = map[string]any{"status": string(result.Status)}
	}))
	if dl, ok := e.logger.(*logging.DeckLogger); ok {
		dl.WithRun(runID, "").LogRun(d.Path, r.limiter.Count(), time.Since(start), string(result.Status), err)
	} else {
		e.logger.Info("engine.run.finished", "run_id", runID, "deck", d.Path, "status", result.Status)
	}

	// The final snapshot carries the run.end trace.
	result.State = r.snapshot()
	return result, err
}
