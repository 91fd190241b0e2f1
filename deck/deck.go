package deck

import (
	"github.com/hupe1980/deckhand/schema"
	"github.com/hupe1980/deckhand/tool"
)

// StartMode selects who speaks first in a fresh run.
type StartMode string

const (
	// StartModeAssistant lets the model open the conversation.
	StartModeAssistant StartMode = "assistant"
	// StartModeUser waits for a user message before the first model call.
	StartModeUser StartMode = "user"
)

// ModelParams are the generation parameters a deck requests.
type ModelParams struct {
	Model       string   `json:"model,omitempty" yaml:"model"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature"`
	MaxTokens   int64    `json:"maxTokens,omitempty" yaml:"maxTokens"`
	TopP        *float64 `json:"topP,omitempty" yaml:"topP"`
}

// Guardrails bound a run. Zero values fall back to engine defaults.
type Guardrails struct {
	MaxDepth  int `json:"maxDepth,omitempty" yaml:"maxDepth"`
	MaxPasses int `json:"maxPasses,omitempty" yaml:"maxPasses"`
	TimeoutMs int `json:"timeoutMs,omitempty" yaml:"timeoutMs"`
}

// HandlerRef points at the deck that handles a lifecycle event.
type HandlerRef struct {
	Path string `json:"path" yaml:"path"`
}

// IntervalHandler is invoked periodically while an action call is in flight.
type IntervalHandler struct {
	Path    string `json:"path" yaml:"path"`
	DelayMs int    `json:"delayMs,omitempty" yaml:"delayMs"`
}

// Handlers are the deck-only lifecycle hooks. Paths are absolute once loaded.
type Handlers struct {
	OnError    *HandlerRef      `json:"onError,omitempty" yaml:"onError"`
	OnInterval *IntervalHandler `json:"onInterval,omitempty" yaml:"onInterval"`
}

// Empty reports whether no handler is declared.
func (h Handlers) Empty() bool { return h.OnError == nil && h.OnInterval == nil }

// DeckRef names an auxiliary deck (scenario test or grader) attached to a deck.
type DeckRef struct {
	ID          string `json:"id,omitempty" yaml:"id"`
	Label       string `json:"label,omitempty" yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description"`
	Path        string `json:"path" yaml:"path"`
}

// Card is a document embedded into a deck or another card. Its schemas are
// fragments that get merged upward into the owning deck.
type Card struct {
	Path           string         `json:"path"`
	Label          string         `json:"label,omitempty"`
	Body           string         `json:"body"`
	Actions        []tool.Action  `json:"actions,omitempty"`
	Embeds         []*Card        `json:"embeds,omitempty"`
	InputFragment  *schema.Schema `json:"-"`
	OutputFragment *schema.Schema `json:"-"`
	Schemas        []string       `json:"schemas,omitempty"`
	RespondEnabled bool           `json:"respondEnabled,omitempty"`
	InitHint       bool           `json:"initHint,omitempty"`
}

// Deck is a fully loaded, flattened agent document.
//
// Schemas lists the resolved paths of the deck's own schema modules; each
// card lists its own.
//
// Cards holds every transitively embedded card in depth-first order, each path
// at most once. Actions is the merged registry content: card actions in
// order, overlaid by the deck's own (deck wins on name collision).
type Deck struct {
	Path           string         `json:"path"`
	Label          string         `json:"label,omitempty"`
	Body           string         `json:"body"`
	Actions        []tool.Action  `json:"actions,omitempty"`
	InputSchema    *schema.Schema `json:"-"`
	OutputSchema   *schema.Schema `json:"-"`
	Cards          []*Card        `json:"cards,omitempty"`
	Schemas        []string       `json:"schemas,omitempty"`
	ModelParams    ModelParams    `json:"modelParams"`
	Guardrails     Guardrails     `json:"guardrails"`
	Handlers       Handlers       `json:"handlers"`
	StartMode      StartMode      `json:"startMode"`
	RespondEnabled bool           `json:"respondEnabled,omitempty"`
	InitHint       bool           `json:"initHint,omitempty"`
	TestDecks      []DeckRef      `json:"testDecks,omitempty"`
	GraderDecks    []DeckRef      `json:"graderDecks,omitempty"`
}

// Registry builds an action registry from the deck's merged actions.
func (d *Deck) Registry() *tool.Registry {
	r := tool.NewRegistry()
	r.MergeActions(d.Actions)
	return r
}

// Action returns the action registered under name.
func (d *Deck) Action(name string) (tool.Action, bool) {
	for _, a := range d.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return tool.Action{}, false
}

// Prompt returns the deck body followed by the flattened card bodies,
// separated by blank lines. Empty bodies are skipped.
func (d *Deck) Prompt() string {
	parts := make([]string, 0, len(d.Cards)+1)
	if d.Body != "" {
		parts = append(parts, d.Body)
	}
	for _, c := range d.Cards {
		if c.Body != "" {
			parts = append(parts, c.Body)
		}
	}
	return joinBlocks(parts)
}
