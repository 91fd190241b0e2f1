// Package testutil contains helpers shared by tests: a writer for deck
// fixture trees and a fluent builder for run states. They are not intended
// for production usage.
package testutil
