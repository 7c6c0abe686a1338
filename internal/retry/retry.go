// Package retry provides the injectable polling policy used by the
// certificate workflows. A Policy owns the pacing decisions (interval,
// backoff, attempt budget) so callers only describe when a poll is done.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted indicates the attempt budget was spent before the polled
// resource reached a terminal state. It is distinct from any error the
// poll function itself returns.
var ErrExhausted = errors.New("retry: attempt budget exhausted")

// Policy controls how a polling loop waits and when it gives up.
type Policy struct {
	Interval    time.Duration // Wait between attempts
	MaxAttempts int           // Attempt ceiling; <= 0 means unbounded
	Multiplier  float64       // Interval growth factor; <= 1 keeps the interval fixed
	MaxInterval time.Duration // Interval cap when Multiplier > 1; 0 means no cap
}

// DefaultPolicy matches the protocol's expected cadence: a fixed one-second
// interval with a one-minute attempt budget.
func DefaultPolicy() Policy {
	return Policy{
		Interval:    time.Second,
		MaxAttempts: 60,
		Multiplier:  1.0,
	}
}

// Poll invokes fn until it reports done, fn fails, the context is cancelled,
// or the attempt budget is spent. A spent budget yields an error wrapping
// ErrExhausted.
func (p Policy) Poll(ctx context.Context, fn func(ctx context.Context) (done bool, err error)) error {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}

	for attempt := 1; ; attempt++ {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return fmt.Errorf("%w after %d attempts", ErrExhausted, attempt)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		if p.Multiplier > 1 {
			next := time.Duration(float64(interval) * p.Multiplier)
			if p.MaxInterval > 0 && next > p.MaxInterval {
				next = p.MaxInterval
			}
			interval = next
		}
	}
}
