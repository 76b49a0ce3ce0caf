// Package converge implements bounded polling waits: a predicate is checked
// repeatedly until it holds or the bound elapses.
package converge

import (
	"context"
	"errors"
	"time"
)

// DefaultInterval is the polling interval used by When.
const DefaultInterval = 10 * time.Millisecond

// ErrTimeout is returned when the predicate did not hold within the bound.
var ErrTimeout = errors.New("convergence timeout")

// When polls cond until it returns true, the timeout elapses or ctx is done.
// A non-positive timeout waits until ctx is done.
func When(ctx context.Context, timeout time.Duration, cond func() bool) error {
	return WhenEvery(ctx, timeout, DefaultInterval, cond)
}

// WhenEvery is When with an explicit polling interval.
func WhenEvery(ctx context.Context, timeout, interval time.Duration, cond func() bool) error {
	if cond() {
		return nil
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			// one last look so a predicate that flipped at the boundary still wins
			if cond() {
				return nil
			}
			return ErrTimeout
		case <-tick.C:
			if cond() {
				return nil
			}
		}
	}
}
