package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hupe1980/deckhand/core"
)

// MemoryStore is a volatile Store keeping workspaces in a process local map.
// It is safe for concurrent access. States are cloned on the way in and out
// so callers never share slices with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]core.RunState
	logs   map[string][]json.RawMessage
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]core.RunState),
		logs:   make(map[string][]json.RawMessage),
	}
}

// ReadState returns a clone of the stored state.
func (s *MemoryStore) ReadState(_ context.Context, workspaceID string) (core.RunState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[workspaceID]
	if !ok {
		return core.RunState{}, ErrNotFound
	}
	return state.Clone(), nil
}

// WriteState stores a clone of state.
func (s *MemoryStore) WriteState(_ context.Context, workspaceID string, state core.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[workspaceID] = state.Clone()
	return nil
}

// AppendLog appends a copy of event to the workspace log.
func (s *MemoryStore) AppendLog(_ context.Context, workspaceID string, event json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[workspaceID] = append(s.logs[workspaceID], append(json.RawMessage(nil), event...))
	return nil
}

// ReadLog returns the workspace log in append order.
func (s *MemoryStore) ReadLog(_ context.Context, workspaceID string) ([]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]json.RawMessage, len(s.logs[workspaceID]))
	copy(out, s.logs[workspaceID])
	return out, nil
}
