// Package store persists workspace run state and the per-workspace event log.
//
// Two implementations are provided: MemoryStore for tests and ephemeral
// servers, and SQLiteStore for durable local storage.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hupe1980/deckhand/core"
)

// ErrNotFound is returned by ReadState for a workspace without saved state.
var ErrNotFound = errors.New("store: workspace not found")

// Store is the storage capability used by the workspace manager.
//
// Contract:
//   - ReadState returns the last state written for workspaceID or ErrNotFound
//   - WriteState replaces the stored state; callers write every snapshot in order
//   - AppendLog adds one JSON event to the workspace log; ReadLog returns them in append order
type Store interface {
	ReadState(ctx context.Context, workspaceID string) (core.RunState, error)
	WriteState(ctx context.Context, workspaceID string, state core.RunState) error
	AppendLog(ctx context.Context, workspaceID string, event json.RawMessage) error
	ReadLog(ctx context.Context, workspaceID string) ([]json.RawMessage, error)
}
