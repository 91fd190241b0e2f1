package deck

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/deckhand/tool"
)

// CycleError reports an embed chain that returns to a document already being
// loaded. Chain holds the documents in load order, ending with the repeat.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return "embed cycle detected: " + strings.Join(e.Chain, " -> ")
}

// SchemaError reports a schema module that could not be resolved or parsed.
type SchemaError struct {
	Path   string // document declaring the schema
	Module string // resolved schema module path
	Err    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema %s (declared in %s): %v", e.Module, e.Path, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// HandlerInCardError reports lifecycle handlers declared by a card.
type HandlerInCardError struct {
	Path string
}

func (e *HandlerInCardError) Error() string {
	return fmt.Sprintf("card %s declares handlers; handlers are only allowed on decks", e.Path)
}

// DocumentError reports an unreadable or malformed document.
type DocumentError struct {
	Path string
	Err  error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document %s: %v", e.Path, e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }

// IsLoadError reports whether err is one of the load error kinds.
func IsLoadError(err error) bool {
	var (
		cycle     *CycleError
		schemaErr *SchemaError
		handler   *HandlerInCardError
		docErr    *DocumentError
		def       *tool.ActionDefinitionError
		invalid   *tool.InvalidActionNameError
		reserved  *tool.ReservedActionNameError
	)
	return errors.As(err, &cycle) || errors.As(err, &schemaErr) || errors.As(err, &handler) ||
		errors.As(err, &docErr) || errors.As(err, &def) || errors.As(err, &invalid) || errors.As(err, &reserved)
}
