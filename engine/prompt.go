package engine

import (
	"context"

	"github.com/hupe1980/deckhand/model"
	"github.com/hupe1980/deckhand/schema"
	"github.com/hupe1980/deckhand/tool"
)

// tools builds the tool definitions offered to the model: one per action,
// followed by the respond tool when the deck enables it. Action parameters
// come from the action deck's input schema; decks that fail to load here are
// still offered with an open object schema and fail when called.
func (r *run) tools(ctx context.Context) []model.ToolDefinition {
	actions := r.deck.Registry().List()
	defs := make([]model.ToolDefinition, 0, len(actions)+1)
	for _, a := range actions {
		params := map[string]any{"type": "object"}
		desc := a.Description
		if d, err := r.engine.arena.Get(ctx, a.Path); err == nil {
			if d.InputSchema != nil && d.InputSchema.Kind == schema.KindObject {
				params = d.InputSchema.JSONSchema()
			}
			if desc == "" {
				desc = d.Label
			}
		} else {
			r.logger.Debug("engine.tools.action_unavailable", "run_id", r.runID, "action", a.Name, "error", err)
		}
		if desc == "" {
			desc = a.Label
		}
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        a.Name,
				Description: desc,
				Parameters:  params,
			},
		})
	}

	if r.deck.RespondEnabled {
		payload := map[string]any{}
		if r.deck.OutputSchema != nil {
			payload = r.deck.OutputSchema.JSONSchema()
		}
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        tool.RespondToolName,
				Description: "Finish the run and return the final result as payload.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{"payload": payload},
					"required":   []any{"payload"},
				},
			},
		})
	}
	return defs
}
