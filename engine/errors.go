package engine

import "fmt"

// CapabilityError reports that a model or action could not be used: no model
// configured, a provider failure or an action deck that failed to load or run.
type CapabilityError struct {
	Op   string // "model" or "action"
	Name string
	Err  error
}

func (e *CapabilityError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Name, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// GuardrailError reports that a run hit one of its limits.
type GuardrailError struct {
	Name  string // "maxPasses" or "maxDepth"
	Limit int
	Err   error
}

func (e *GuardrailError) Error() string {
	return fmt.Sprintf("guardrail %s exceeded (limit %d)", e.Name, e.Limit)
}

func (e *GuardrailError) Unwrap() error { return e.Err }
