package core

import (
	"fmt"
	"sync"
)

// PassLimiter enforces a maximum number of model calls ("passes") per run.
type PassLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewPassLimiter creates a new limiter with a max number of passes.
// If max == 0, unlimited passes are allowed.
func NewPassLimiter(max int) *PassLimiter {
	return &PassLimiter{max: max}
}

// Increment increases the pass counter and returns an error if the limit is exceeded.
func (pl *PassLimiter) Increment() error {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	pl.count++
	if pl.max > 0 && pl.count > pl.max {
		return fmt.Errorf("exceeded max passes: %d", pl.max)
	}

	return nil
}

// Max returns the configured limit (0 means unlimited).
func (pl *PassLimiter) Max() int { return pl.max }

// Count returns the current number of passes made.
func (pl *PassLimiter) Count() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	return pl.count
}

// Remaining returns how many passes are left before hitting the limit.
func (pl *PassLimiter) Remaining() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.max == 0 {
		return -1 // unlimited
	}

	return pl.max - pl.count
}
