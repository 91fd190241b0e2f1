package core

import "time"

// TraceType classifies a TraceEvent.
type TraceType string

const (
	TraceRunStart    TraceType = "run.start"
	TraceRunEnd      TraceType = "run.end"
	TraceDeckStart   TraceType = "deck.start"
	TraceDeckEnd     TraceType = "deck.end"
	TraceModelCall   TraceType = "model.call"
	TraceModelResult TraceType = "model.result"
	TraceToolCall    TraceType = "tool.call"
	TraceToolResult  TraceType = "tool.result"
	TraceUserMessage TraceType = "message.user"
	TraceLog         TraceType = "log"
	TraceMonolog     TraceType = "monolog"
)

// TraceEvent is a typed record emitted at a run, deck, model or tool
// boundary. ActionCallID and ParentActionCallID link nested deck runs into a
// call tree rooted at the run's top-level deck.
type TraceEvent struct {
	Type               TraceType      `json:"type"`
	Timestamp          time.Time      `json:"ts"`
	RunID              string         `json:"runId"`
	ActionCallID       string         `json:"actionCallId,omitempty"`
	ParentActionCallID string         `json:"parentActionCallId,omitempty"`
	DeckPath           string         `json:"deckPath,omitempty"`
	Name               string         `json:"name,omitempty"`
	Message            string         `json:"message,omitempty"`
	Input              any            `json:"input,omitempty"`
	Output             any            `json:"output,omitempty"`
	Error              string         `json:"error,omitempty"`
	MessageCount       int            `json:"messageCount,omitempty"`
	ToolCount          int            `json:"toolCount,omitempty"`
	FinishReason       string         `json:"finishReason,omitempty"`
	Meta               map[string]any `json:"meta,omitempty"`
}

// NewTraceEvent creates a trace event of typ stamped with the current time.
func NewTraceEvent(typ TraceType, runID string) TraceEvent {
	return TraceEvent{Type: typ, RunID: runID, Timestamp: time.Now().UTC()}
}
