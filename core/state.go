package core

import (
	"fmt"
	"maps"
	"time"
)

// RefSource records where a message came from.
type RefSource string

const (
	RefSourceScenario RefSource = "scenario"
	RefSourceManual   RefSource = "manual"
	RefSourceArtifact RefSource = "artifact"
)

// MessageRef identifies a message; MessageRefs run parallel to Messages.
type MessageRef struct {
	ID     string    `json:"id"`
	Source RefSource `json:"source"`
}

// Feedback is a rating attached to a message by a reviewer.
type Feedback struct {
	MessageRefID string    `json:"messageRefId"`
	Score        int       `json:"score"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RunState is the persisted snapshot of a run. It is a value type: every
// With* method returns a new RunState and leaves the receiver untouched, so a
// snapshot handed to a reader never changes underneath it.
//
// Contract:
//   - len(MessageRefs) == len(Messages)
//   - Messages and Traces are append-only across successive snapshots
type RunState struct {
	RunID             string         `json:"runId"`
	Messages          []Message      `json:"messages"`
	MessageRefs       []MessageRef   `json:"messageRefs"`
	Feedback          []Feedback     `json:"feedback,omitempty"`
	Traces            []TraceEvent   `json:"traces,omitempty"`
	Notes             string         `json:"notes,omitempty"`
	ConversationScore *float64       `json:"conversationScore,omitempty"`
	Meta              map[string]any `json:"meta,omitempty"`
}

// NewRunState creates an empty state for runID.
func NewRunState(runID string) RunState {
	return RunState{RunID: runID, Messages: []Message{}, MessageRefs: []MessageRef{}, Meta: map[string]any{}}
}

// Clone returns a deep copy of the slices and maps of s.
func (s RunState) Clone() RunState {
	c := s
	c.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		c.Messages[i] = m.clone()
	}
	c.MessageRefs = append([]MessageRef{}, s.MessageRefs...)
	if s.Feedback != nil {
		c.Feedback = append([]Feedback(nil), s.Feedback...)
	}
	if s.Traces != nil {
		c.Traces = append([]TraceEvent(nil), s.Traces...)
	}
	if s.ConversationScore != nil {
		score := *s.ConversationScore
		c.ConversationScore = &score
	}
	c.Meta = make(map[string]any, len(s.Meta))
	maps.Copy(c.Meta, s.Meta)
	return c
}

// WithMessage returns a new state with m appended and a fresh ref recorded.
func (s RunState) WithMessage(m Message, source RefSource) RunState {
	c := s.Clone()
	c.Messages = append(c.Messages, m.clone())
	c.MessageRefs = append(c.MessageRefs, MessageRef{ID: NewID(), Source: source})
	return c
}

// WithTrace returns a new state with ev appended to the traces.
func (s RunState) WithTrace(ev TraceEvent) RunState {
	c := s.Clone()
	c.Traces = append(c.Traces, ev)
	return c
}

// WithMeta returns a new state with key set in the meta bag.
func (s RunState) WithMeta(key string, value any) RunState {
	c := s.Clone()
	c.Meta[key] = value
	return c
}

// WithFeedback returns a new state with fb appended.
func (s RunState) WithFeedback(fb Feedback) RunState {
	c := s.Clone()
	c.Feedback = append(c.Feedback, fb)
	return c
}

// LastMessage returns the newest message, if any.
func (s RunState) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// LastConversational returns the content of the newest user or assistant
// message with non-empty text.
func (s RunState) LastConversational() (string, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if (m.Role == RoleUser || m.Role == RoleAssistant) && m.Content != "" {
			return m.Content, true
		}
	}
	return "", false
}

// Validate checks the structural invariants of s.
func (s RunState) Validate() error {
	if len(s.MessageRefs) != len(s.Messages) {
		return fmt.Errorf("run state %s: %d message refs for %d messages", s.RunID, len(s.MessageRefs), len(s.Messages))
	}
	return nil
}

// Normalize backfills refs for states produced by older writers so that the
// refs/messages invariant holds.
func (s RunState) Normalize() RunState {
	if len(s.MessageRefs) == len(s.Messages) && s.Meta != nil {
		return s
	}
	c := s.Clone()
	for len(c.MessageRefs) < len(c.Messages) {
		c.MessageRefs = append(c.MessageRefs, MessageRef{ID: NewID(), Source: RefSourceManual})
	}
	c.MessageRefs = c.MessageRefs[:len(c.Messages)]
	return c
}
