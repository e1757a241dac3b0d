// Package retry runs fallible operations under a retry-with-backoff policy.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/OrlandoBitencourt/pennant/pkg/domain"
)

// Policy decides how many times an operation runs and how long to wait
// between attempts. Attempts are numbered from 1. Implementations must be
// safe for concurrent use.
type Policy interface {
	MaxAttempts() int
	Delay(attempt int) time.Duration
	ShouldRetry(attempt int, err error) bool
}

// Exponential waits min(InitialDelay * Factor^(attempt-1), MaxDelay) after
// each failed attempt.
type Exponential struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64

	// Retryable filters errors worth retrying. Nil retries everything
	// except an open circuit.
	Retryable func(error) bool
}

// DefaultExponential returns a three-attempt policy starting at 500ms.
func DefaultExponential() Exponential {
	return Exponential{
		Attempts:     3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Factor:       2,
	}
}

func (e Exponential) MaxAttempts() int {
	if e.Attempts < 1 {
		return 1
	}
	return e.Attempts
}

func (e Exponential) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	factor := e.Factor
	if factor < 1 {
		factor = 1
	}

	d := float64(e.InitialDelay) * math.Pow(factor, float64(attempt-1))
	if e.MaxDelay > 0 && d > float64(e.MaxDelay) {
		return e.MaxDelay
	}
	return time.Duration(d)
}

func (e Exponential) ShouldRetry(attempt int, err error) bool {
	if err == nil || attempt >= e.MaxAttempts() {
		return false
	}
	if e.Retryable != nil {
		return e.Retryable(err)
	}
	return !domain.IsCircuitOpen(err)
}

// NoRetry runs the operation exactly once.
type NoRetry struct{}

func (NoRetry) MaxAttempts() int { return 1 }
func (NoRetry) Delay(int) time.Duration { return 0 }
func (NoRetry) ShouldRetry(int, error) bool { return false }

// Do runs fn under p. After the last failed attempt, or when ctx is done
// while waiting, the most recent error from fn is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	if p == nil {
		p = NoRetry{}
	}

	var err error
	for attempt := 1; attempt <= p.MaxAttempts(); attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if attempt == p.MaxAttempts() || !p.ShouldRetry(attempt, err) {
			return err
		}
		if !sleep(ctx, p.Delay(attempt)) {
			return err
		}
	}
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context, attempt int) error {
		v, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
