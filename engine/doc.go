// Package engine executes decks.
//
// A run starts from a loaded root deck and alternates model turns with tool
// dispatch until the deck responds through the respond tool, the model
// replies without tool calls, the caller cancels or a guardrail trips. Action
// calls execute the action's deck as a nested run whose result becomes the
// tool message of the calling run.
//
// # Observing a run
//
// Request carries three optional output channels:
//
//   - States receives an immutable core.RunState after every message appended
//     to the root history.
//   - Text receives streamed assistant text of the root deck when Stream is set.
//   - Traces receives every trace event of the call tree, nested runs included.
//
// Sends are blocking. A caller that sets a channel must drain it until Run
// returns:
//
//	states := make(chan core.RunState)
//	go func() {
//	    for s := range states {
//	        persist(s)
//	    }
//	}()
//	res, err := eng.Run(ctx, engine.Request{DeckPath: "decks/root.md", States: states})
//	close(states)
//
// # Guardrails
//
// MaxPasses bounds model calls per run, MaxDepth bounds action nesting and
// TimeoutMs bounds the wall-clock time of the root run. Deck values override
// Config defaults.
//
// # Handlers
//
// onError runs after a failed root run (not after cancellation) and appends
// its reply as an assistant message. onInterval runs periodically while an
// action call is in flight and reports through monolog trace events.
//
// # Cancellation
//
// Canceling the context passed to Run stops the run at the next suspension
// point. The returned error matches core.ErrRunCanceled and the Result status
// is core.RunStatusCanceled.
package engine
