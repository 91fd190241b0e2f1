// Package model defines the provider-agnostic contract the deck engine uses
// to drive language models, plus a scripted implementation for tests.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Normalize tool (function) definitions and calls across vendors
//   - Keep request/response shapes minimal and transport independent
//
// Providers (see model/openai and model/anthropic) implement Model so the
// engine stays decoupled from vendor SDKs.
package model
