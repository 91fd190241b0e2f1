package core

import (
	"context"
	"errors"
)

// ErrRunCanceled is returned when a run is aborted by its caller. It is the
// only error that maps to RunStatusCanceled.
var ErrRunCanceled = errors.New("run canceled")

// RunStatus is the terminal or current state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCanceled  RunStatus = "canceled"
	RunStatusError     RunStatus = "error"
)

// IsCanceled reports whether err is a cancellation, either the run sentinel
// or a canceled context.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrRunCanceled) || errors.Is(err, context.Canceled)
}

// StatusFromError maps the error returned by a run to its terminal status.
func StatusFromError(err error) RunStatus {
	switch {
	case err == nil:
		return RunStatusCompleted
	case IsCanceled(err):
		return RunStatusCanceled
	default:
		return RunStatusError
	}
}
