// Package retry runs an operation under a bounded, randomized exponential
// backoff policy. It is used for page navigation and model invocation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Policy describes how often and how patiently an operation is retried.
//
// The wait before attempt n+1 is drawn uniformly from
// [MinDelay, min(MaxDelay, max(MinDelay, Multiplier*2^(n-1)))].
type Policy struct {
	// MaxAttempts includes the initial attempt. Minimum 1.
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	// Multiplier scales the exponential ceiling. Zero means one second.
	Multiplier time.Duration
}

// Navigation is the default policy for loading a page.
var Navigation = Policy{MaxAttempts: 3, MinDelay: 10 * time.Second, MaxDelay: 60 * time.Second}

// Model is the default policy for invoking the language model.
var Model = Policy{MaxAttempts: 3, MinDelay: time.Second, MaxDelay: 20 * time.Second}

// Backoff returns the randomized wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = time.Second
	}

	high := p.MaxDelay
	if shift := attempt - 1; shift < 32 {
		if exp := mult << shift; exp > 0 && exp < high {
			high = exp
		}
	}
	if high < p.MinDelay {
		high = p.MinDelay
	}
	if high <= p.MinDelay {
		return p.MinDelay
	}
	return p.MinDelay + rand.N(high-p.MinDelay+1)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do returns it immediately without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Hooks observe the loop. Every field is optional.
type Hooks struct {
	// OnRetry runs after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, wait time.Duration)

	// Sleep replaces the context-aware timer wait. Tests use it to skip
	// real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do calls fn until it succeeds, returns a Permanent error, the context is
// done, or the policy's attempts are used up. The attempt number passed to
// fn is 1-based.
func Do[T any](ctx context.Context, p Policy, h Hooks, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	sleep := h.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	n := p.attempts()
	var lastErr error
	for attempt := 1; attempt <= n; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx, attempt)
		if err == nil {
			return v, nil
		}
		if IsPermanent(err) {
			var pe *permanentError
			errors.As(err, &pe)
			return zero, pe.err
		}
		lastErr = err
		if attempt == n {
			break
		}

		wait := p.Backoff(attempt)
		if h.OnRetry != nil {
			h.OnRetry(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
	return zero, &ExhaustedError{Attempts: n, Last: lastErr}
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
