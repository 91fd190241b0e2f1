package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultEventType is used for events whose data carries no type.
const DefaultEventType = "message"

// ErrUndecodable is returned by EncodeFrame for events whose data is not a
// JSON value. Such events are skipped by live delivery.
var ErrUndecodable = errors.New("stream: undecodable event data")

// SanitizeEventType makes s safe for the event field of a frame: every
// character outside [A-Za-z0-9._-] becomes '_'. Line breaks and field
// separators such as "retry:" therefore cannot start a new field.
func SanitizeEventType(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

type envelope struct {
	Offset uint64 `json:"offset"`
	Data   any    `json:"data"`
}

// decodeData decodes one JSON value and keeps numbers as json.Number so
// integers beyond float64 precision are written back unchanged.
func decodeData(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON value")
	}
	return data, nil
}

// EncodeFrame renders ev as a server-sent-events frame. The sanitized type is
// written to the event field and reflected into data.type so both agree.
func EncodeFrame(ev Event) ([]byte, error) {
	data, err := decodeData(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: offset %d: %v", ErrUndecodable, ev.Offset, err)
	}

	typ := DefaultEventType
	if obj, ok := data.(map[string]any); ok {
		if t, ok := obj["type"].(string); ok && t != "" {
			typ = SanitizeEventType(t)
			if typ == "" {
				typ = DefaultEventType
			}
			obj["type"] = typ
		}
	}

	payload, err := json.Marshal(envelope{Offset: ev.Offset, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%w: offset %d: %v", ErrUndecodable, ev.Offset, err)
	}
	return fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", ev.Offset, typ, payload), nil
}

// Frame writes ev to w as one frame.
func Frame(w io.Writer, ev Event) error {
	b, err := EncodeFrame(ev)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
