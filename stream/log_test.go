package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -------------------- Log Tests --------------------

func TestLog_OffsetsAndRead(t *testing.T) {
	log := NewLog()
	for i := range 3 {
		off, err := log.Append("s", map[string]any{"n": i})
		require.NoError(t, err)
		assert.Equal(t, uint64(i), off)
	}

	events := log.Read("s", 1)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].Offset)
	assert.Equal(t, uint64(2), events[1].Offset)
	assert.JSONEq(t, `{"n":1}`, string(events[0].Data))

	assert.Empty(t, log.Read("s", 3))
	assert.Empty(t, log.Read("s", 100))
	assert.Empty(t, log.Read("unknown", 0))
	assert.Equal(t, uint64(3), log.Tail("s"))
}

func TestLog_StreamsAreIndependent(t *testing.T) {
	log := NewLog()
	_, _ = log.Append("a", 1)
	off, err := log.Append("b", 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), off)
	assert.Equal(t, []string{"a", "b"}, log.Streams())
}

func TestLog_AppendRejectsInvalidJSON(t *testing.T) {
	log := NewLog()
	_, err := log.Append("s", json.RawMessage(`{nope`))
	assert.Error(t, err)
	_, err = log.Append("s", func() {})
	assert.Error(t, err)
	assert.Empty(t, log.Read("s", 0))

	off, err := log.Append("s", []byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), off)
}

func TestLog_ConcurrentAppendsAreGapFree(t *testing.T) {
	log := NewLog()
	const writers, perWriter = 8, 50

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				_, err := log.Append("s", map[string]int{"w": w, "i": i})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	events := log.Read("s", 0)
	require.Len(t, events, writers*perWriter)
	for i, ev := range events {
		assert.Equal(t, uint64(i), ev.Offset)
	}
}

func TestLog_SubscribeCatchesUpThenTails(t *testing.T) {
	log := NewLog()
	_, _ = log.Append("s", "first")
	_, _ = log.Append("s", "second")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := log.Subscribe(ctx, "s", 1)

	got := <-sub
	assert.Equal(t, uint64(1), got.Offset)

	go func() { _, _ = log.Append("s", "third") }()
	select {
	case got = <-sub:
		assert.Equal(t, uint64(2), got.Offset)
		assert.JSONEq(t, `"third"`, string(got.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("no live event")
	}

	cancel()
	for range sub {
	}
}

func TestLog_SubscribeBeforeFirstAppend(t *testing.T) {
	log := NewLog()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := log.Subscribe(ctx, "new", 0)

	_, err := log.Append("new", map[string]any{"type": "hello"})
	require.NoError(t, err)

	select {
	case ev := <-sub:
		assert.Equal(t, uint64(0), ev.Offset)
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
}

func TestLog_PruneEndsSubscriptions(t *testing.T) {
	log := NewLog()
	_, _ = log.Append("s", 1)

	sub := log.Subscribe(context.Background(), "s", 1)
	log.Prune("s")

	select {
	case _, ok := <-sub:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
	assert.Empty(t, log.Streams())

	off, err := log.Append("s", 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), off)
}

// -------------------- SSE Tests --------------------

func TestSanitizeEventType(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"run.start", "run.start"},
		{"tool-call_1", "tool-call_1"},
		{"good\nretry: 1\r\ndata: injected", "good_retry__1__data__injected"},
		{"a b", "a_b"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeEventType(tt.in))
	}
}

func TestFrame_SanitizesInjectedType(t *testing.T) {
	log := NewLog()
	_, err := log.Append("s", map[string]any{"type": "good\nretry: 1\r\ndata: injected", "note": "retry: 2"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ev := <-log.Subscribe(ctx, "s", 0)

	var buf bytes.Buffer
	require.NoError(t, Frame(&buf, ev))
	frame := buf.String()

	lines := strings.Split(strings.TrimSuffix(frame, "\n\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id: 0", lines[0])
	assert.Equal(t, "event: good_retry__1__data__injected", lines[1])
	require.True(t, strings.HasPrefix(lines[2], "data: "))
	for _, line := range lines {
		assert.False(t, strings.HasPrefix(line, "retry:"))
	}

	var env struct {
		Offset uint64         `json:"offset"`
		Data   map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[2], "data: ")), &env))
	assert.Equal(t, uint64(0), env.Offset)
	assert.Equal(t, "good_retry__1__data__injected", env.Data["type"])
}

func TestFrame_DefaultTypeAndUndecodable(t *testing.T) {
	b, err := EncodeFrame(Event{Offset: 4, Data: json.RawMessage(`[1,2]`)})
	require.NoError(t, err)
	assert.Equal(t, "id: 4\nevent: message\ndata: {\"offset\":4,\"data\":[1,2]}\n\n", string(b))

	_, err = EncodeFrame(Event{Offset: 5, Data: json.RawMessage(`{broken`)})
	assert.ErrorIs(t, err, ErrUndecodable)
}

func TestFrame_KeepsLargeIntegers(t *testing.T) {
	b, err := EncodeFrame(Event{Offset: 1, Data: json.RawMessage(`{"type":"x","id":9007199254740993}`)})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"id":9007199254740993`)
	assert.Contains(t, string(b), "event: x\n")

	_, err = EncodeFrame(Event{Offset: 2, Data: json.RawMessage(`{"a":1} {"b":2}`)})
	assert.ErrorIs(t, err, ErrUndecodable)
}
