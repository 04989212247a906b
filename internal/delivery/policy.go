package delivery

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts = 3
	DefaultDelay       = 5 * time.Second
)

// SleepFunc waits between attempts. It must return early with ctx.Err() when
// the context ends. Tests substitute an instant implementation.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc: a timer raced against ctx.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Policy bounds one logical send. NewBackOff is called once per send because
// backoff.BackOff implementations are stateful.
type Policy struct {
	MaxAttempts int
	NewBackOff  func() backoff.BackOff
}

// FixedPolicy waits the same delay between every attempt.
func FixedPolicy(maxAttempts int, delay time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		NewBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(delay)
		},
	}
}

// ExponentialPolicy doubles the delay from initial up to maxInterval, with jitter.
func ExponentialPolicy(maxAttempts int, initial, maxInterval time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.Multiplier = 2
			b.MaxInterval = maxInterval
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		},
	}
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p Policy) backOff() backoff.BackOff {
	if p.NewBackOff == nil {
		return backoff.NewConstantBackOff(DefaultDelay)
	}
	return p.NewBackOff()
}
