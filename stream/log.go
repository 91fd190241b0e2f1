package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/deckhand/logging"
)

// Event is one entry of a stream. Offset is assigned by the log and never
// changes; Data is the JSON payload as appended.
type Event struct {
	Offset uint64          `json:"offset"`
	Data   json.RawMessage `json:"data"`
}

// Options configures a Log.
type Options struct {
	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger

	// SubscriberBuffer is the channel capacity of Subscribe. Defaults to 16.
	SubscriberBuffer int
}

// Log is an in-process set of append-only streams keyed by id. The zero value
// is not usable; create one with NewLog.
type Log struct {
	mu      sync.RWMutex
	streams map[string]*topic
	opts    Options
}

// topic holds one stream. changed is closed and replaced on every append so
// waiting subscribers wake up.
type topic struct {
	mu      sync.Mutex
	events  []Event
	changed chan struct{}
	pruned  bool
}

// NewLog creates an empty Log.
func NewLog(optFns ...func(o *Options)) *Log {
	opts := Options{
		Logger:           logging.NoOpLogger{},
		SubscriberBuffer: 16,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Log{streams: map[string]*topic{}, opts: opts}
}

func (l *Log) topic(id string, create bool) *topic {
	l.mu.RLock()
	t, ok := l.streams[id]
	l.mu.RUnlock()
	if ok || !create {
		return t
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok = l.streams[id]; ok {
		return t
	}
	t = &topic{changed: make(chan struct{})}
	l.streams[id] = t
	return t
}

// Append adds data to stream id and returns its offset. data may be a
// json.RawMessage or []byte holding JSON, or any value json.Marshal accepts.
func (l *Log) Append(id string, data any) (uint64, error) {
	raw, err := encode(data)
	if err != nil {
		return 0, fmt.Errorf("append to stream %q: %w", id, err)
	}

	for {
		t := l.topic(id, true)
		t.mu.Lock()
		if t.pruned {
			// Lost a race with Prune; the id now names a fresh stream.
			t.mu.Unlock()
			continue
		}
		off := uint64(len(t.events))
		t.events = append(t.events, Event{Offset: off, Data: raw})
		close(t.changed)
		t.changed = make(chan struct{})
		t.mu.Unlock()
		return off, nil
	}
}

func encode(data any) (json.RawMessage, error) {
	var raw []byte
	switch v := data.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("invalid json payload")
	}
	return append(json.RawMessage(nil), raw...), nil
}

// Read returns the events of stream id with offset >= from, in offset order.
// Unknown streams and offsets past the tail yield an empty slice.
func (l *Log) Read(id string, from uint64) []Event {
	t := l.topic(id, false)
	if t == nil {
		return []Event{}
	}
	events, _, _ := t.read(from)
	return events
}

// read returns the suffix from offset, the channel closed on the next append
// and whether the stream was pruned.
func (t *topic) read(from uint64) ([]Event, <-chan struct{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if from >= uint64(len(t.events)) {
		return []Event{}, t.changed, t.pruned
	}
	return append([]Event(nil), t.events[from:]...), t.changed, t.pruned
}

// Tail returns the offset the next appended event of stream id will get.
func (l *Log) Tail(id string) uint64 {
	t := l.topic(id, false)
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return uint64(len(t.events))
}

// Subscribe replays the events of stream id from offset from and then
// delivers new events as they are appended. The channel is closed when ctx is
// done or the stream is pruned.
func (l *Log) Subscribe(ctx context.Context, id string, from uint64) <-chan Event {
	out := make(chan Event, l.opts.SubscriberBuffer)
	// Create the stream so a subscriber can wait for its first event.
	t := l.topic(id, true)

	go func() {
		defer close(out)
		next := from
		for {
			events, changed, pruned := t.read(next)
			for _, ev := range events {
				select {
				case out <- ev:
					next = ev.Offset + 1
				case <-ctx.Done():
					return
				}
			}
			if pruned {
				return
			}
			if len(events) > 0 {
				continue
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Prune drops stream id and ends its subscriptions. A later Append to the
// same id starts again at offset 0.
func (l *Log) Prune(id string) {
	l.mu.Lock()
	t, ok := l.streams[id]
	delete(l.streams, id)
	l.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	t.pruned = true
	n := len(t.events)
	close(t.changed)
	t.changed = make(chan struct{})
	t.mu.Unlock()
	l.opts.Logger.Debug("stream.pruned", "stream", id, "events", n)
}

// Streams returns the ids of all streams, sorted.
func (l *Log) Streams() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.streams))
	for id := range l.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
