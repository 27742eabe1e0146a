// Package retry retries calls against infrastructure (stores, queues) with
// exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy controls how often and how long Do retries.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// Default is used for store and queue writes.
var Default = Policy{Attempts: 5, Initial: 200 * time.Millisecond, Max: 5 * time.Second}

// DefaultMax caps Delay when the policy sets no Max.
const DefaultMax = time.Hour

// Delay returns the backoff before retry number n (0-based), never more
// than Max (DefaultMax when unset).
func (p Policy) Delay(n int) time.Duration {
	limit := p.Max
	if limit <= 0 {
		limit = DefaultMax
	}
	d := p.Initial
	if d >= limit {
		return limit
	}
	for i := 0; i < n; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}

// Do calls fn until it succeeds, the attempts are used up or ctx is done.
// onRetry, if non-nil, is called before each wait.
func Do(ctx context.Context, p Policy, fn func(context.Context) error, onRetry func(attempt int, err error)) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		if onRetry != nil {
			onRetry(i+1, err)
		}
		select {
		case <-time.After(p.Delay(i)):
		case <-ctx.Done():
			return fmt.Errorf("cancelled during backoff: %w", err)
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}
