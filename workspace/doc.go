// Package workspace runs decks on behalf of persisted workspaces.
//
// A workspace groups one conversation: its RunState lives in a store.Store
// and its events are published to the durable log under StreamID(id). The
// Manager allows at most one in-flight run per workspace; a second Send while
// a run is active fails with ErrWorkspaceBusy instead of interleaving writes
// to the same history.
package workspace
