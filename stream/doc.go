// Package stream implements the durable event log: per-stream, append-only
// sequences of JSON events addressed by offset.
//
// Offsets start at 0 for every stream id and grow by one per Append. Appends
// to the same id are serialized, so offsets never collide or leave gaps even
// with concurrent producers. Readers catch up with Read and follow new events
// with Subscribe, which replays from an offset and then tails the stream:
//
//	log := stream.NewLog()
//	off, _ := log.Append("workspace:1", map[string]any{"type": "run.start"})
//	for ev := range log.Subscribe(ctx, "workspace:1", off) {
//	    _ = stream.Frame(w, ev)
//	}
//
// Frame renders an event as a server-sent-events frame. The event type is
// sanitized before it is written so payload data can never forge additional
// protocol fields.
package stream
