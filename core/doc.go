// Package core provides the foundational data model shared by the deck
// runtime:
//
//   - Messages (role-tagged, append-only conversation entries)
//   - RunState (immutable snapshots of a run's conversation and traces)
//   - TraceEvents (typed records of run, deck, model and tool boundaries)
//   - Run status and the cancellation sentinel
//
// The package intentionally keeps loading, execution and persistence out of
// scope so every other package can depend on it without cycles.
package core
