// Package tool implements the action namespace of a deck: the callable tools a
// model may invoke, the naming rules they obey and the registry that merges
// actions contributed by a deck and its embedded cards.
package tool

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// ReservedPrefix marks names owned by the runtime. Decks may not declare
	// actions starting with it, except for the synthetic tool names below.
	ReservedPrefix = "deckhand_"

	// RespondToolName is the synthetic completion tool. Calling it ends the run
	// with the validated payload as output.
	RespondToolName = ReservedPrefix + "respond"

	// InitToolName is the synthetic initialization tool. The model never calls
	// it; the runtime injects its result before the first turn.
	InitToolName = ReservedPrefix + "init"

	// MaxNameLength bounds action names to what every supported provider accepts.
	MaxNameLength = 64
)

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// Action is a named, callable tool backed by another deck.
type Action struct {
	Name        string `json:"name" yaml:"name"`
	Path        string `json:"path" yaml:"path"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Label       string `json:"label,omitempty" yaml:"label,omitempty"`
}

// IsSynthetic reports whether name is one of the runtime-handled tools.
func IsSynthetic(name string) bool {
	return name == RespondToolName || name == InitToolName
}

// ValidateName checks an action name against the pattern, length and
// reserved-prefix rules. source names the declaring document for messages.
func ValidateName(name, source string) error {
	if strings.HasPrefix(name, ReservedPrefix) && !IsSynthetic(name) {
		return &ReservedActionNameError{Name: name, Source: source}
	}
	if len(name) > MaxNameLength {
		return &InvalidActionNameError{
			Name:   name,
			Source: source,
			Reason: fmt.Sprintf("exceeds %d characters", MaxNameLength),
		}
	}
	if !namePattern.MatchString(name) {
		return &InvalidActionNameError{
			Name:   name,
			Source: source,
			Reason: "must match " + namePattern.String(),
		}
	}
	return nil
}

// Validate checks the required fields and the name of a declared action.
func (a Action) Validate(source string) error {
	if strings.TrimSpace(a.Name) == "" {
		return &ActionDefinitionError{Source: source, Field: "name", Action: a}
	}
	if strings.TrimSpace(a.Path) == "" {
		return &ActionDefinitionError{Source: source, Field: "path", Action: a}
	}
	return ValidateName(a.Name, source)
}

// ActionDefinitionError reports an action entry missing a required field.
type ActionDefinitionError struct {
	Source string
	Field  string
	Action Action
}

func (e *ActionDefinitionError) Error() string {
	if e.Action.Name != "" {
		return fmt.Sprintf("action %q in %s: missing required field %q", e.Action.Name, e.Source, e.Field)
	}
	return fmt.Sprintf("action in %s: missing required field %q", e.Source, e.Field)
}

// InvalidActionNameError reports a name violating the pattern or length rules.
type InvalidActionNameError struct {
	Name   string
	Source string
	Reason string
}

func (e *InvalidActionNameError) Error() string {
	return fmt.Sprintf("invalid action name %q in %s: %s", e.Name, e.Source, e.Reason)
}

// ReservedActionNameError reports a name using the runtime's reserved prefix.
type ReservedActionNameError struct {
	Name   string
	Source string
}

func (e *ReservedActionNameError) Error() string {
	return fmt.Sprintf("action name %q in %s uses reserved prefix %q", e.Name, e.Source, ReservedPrefix)
}
