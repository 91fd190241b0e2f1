package engine

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/deckhand/core"
	"github.com/hupe1980/deckhand/tool"
)

// handleError runs the deck's onError handler after a failed root run. The
// handler's reply is appended as an assistant message and recorded as a log
// trace; the run keeps its error status.
func (r *run) handleError(ctx context.Context, runErr error) {
	h := r.deck.Handlers.OnError
	if h == nil {
		return
	}
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.engine.config.HandlerTimeout)
	defer cancel()

	d, err := r.engine.arena.Get(hctx, h.Path)
	if err != nil {
		r.logger.Warn("engine.handler.load_failed", "run_id", r.runID, "handler", h.Path, "error", err)
		return
	}
	c := r.child(d, core.NewID())
	out, err := r.runChild(hctx, c, map[string]any{"error": runErr.Error(), "deckPath": r.deck.Path}, "")
	if err != nil {
		r.logger.Warn("engine.handler.failed", "run_id", r.runID, "handler", h.Path, "error", err)
		return
	}

	text := stringify(out.value)
	r.appendMessage(core.AssistantMessage(text), core.RefSourceScenario)
	r.tracer.emit(r.trace(core.TraceLog, func(ev *core.TraceEvent) {
		ev.Name = "onError"
		ev.Message = text
		ev.Error = runErr.Error()
		ev.Meta = map[string]any{"level": "error", "handler": d.Path}
	}))
}

// startInterval runs the deck's onInterval handler every delay while an
// action call is in flight. The returned stop function cancels the ticker and
// waits for an in-progress handler run to finish.
func (r *run) startInterval(ctx context.Context, action tool.Action) (stop func()) {
	h := r.deck.Handlers.OnInterval
	if h == nil {
		return func() {}
	}
	delay := time.Duration(h.DelayMs) * time.Millisecond
	if delay <= 0 {
		delay = r.engine.config.IntervalDelay
	}

	hctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		started := time.Now()
		ticker := time.NewTicker(delay)
		defer ticker.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-ticker.C:
				r.runInterval(hctx, h.Path, action, time.Since(started))
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

func (r *run) runInterval(ctx context.Context, path string, action tool.Action, elapsed time.Duration) {
	d, err := r.engine.arena.Get(ctx, path)
	if err != nil {
		r.logger.Warn("engine.handler.load_failed", "run_id", r.runID, "handler", path, "error", err)
		return
	}
	c := r.child(d, core.NewID())
	out, err := r.runChild(ctx, c, map[string]any{"elapsedMs": elapsed.Milliseconds(), "action": action.Name}, "")
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("engine.handler.failed", "run_id", r.runID, "handler", path, "error", err)
		}
		return
	}
	r.tracer.emit(c.trace(core.TraceMonolog, func(ev *core.TraceEvent) {
		ev.Name = action.Name
		ev.Message = stringify(out.value)
		ev.Output = out.value
	}))
}
