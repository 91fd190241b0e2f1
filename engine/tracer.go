package engine

import (
	"sync"

	"github.com/hupe1980/deckhand/core"
)

// tracer collects the trace events of one call tree and forwards them to the
// caller's channel. Nested runs and interval handlers emit concurrently, so
// every access goes through mu; sends happen under the lock to keep channel
// order identical to snapshot order.
type tracer struct {
	mu     sync.Mutex
	ch     chan<- core.TraceEvent
	events []core.TraceEvent
}

func newTracer(ch chan<- core.TraceEvent, prior *core.RunState) *tracer {
	t := &tracer{ch: ch}
	if prior != nil {
		t.events = append([]core.TraceEvent(nil), prior.Traces...)
	}
	return t
}

func (t *tracer) emit(ev core.TraceEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, ev)
	if t.ch != nil {
		t.ch <- ev
	}
}

func (t *tracer) snapshot() []core.TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]core.TraceEvent(nil), t.events...)
}
