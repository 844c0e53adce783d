// Package retry executes operations under an immutable backoff policy.
// Retry behavior is data (a Policy plus a retryable predicate), not
// scattered error handling: callers decide what is transient, this
// package decides when to give up.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"shortform/internal/pkg/logger"
)

// Policy describes backoff behavior. Immutable once constructed; safe to
// share across stages and jobs.
type Policy struct {
	// MaxAttempts is the total number of invocations, >= 1.
	MaxAttempts int
	// BaseDelay is the delay after the first failed attempt.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration
	// Multiplier grows the delay per attempt (base * multiplier^(n-1)).
	Multiplier float64
	// JitterFraction adds up to this fraction of the delay as random
	// jitter, preventing thundering-herd retries.
	JitterFraction float64
}

// DefaultPolicy matches the operational defaults: 3 attempts, 2s base,
// doubling, capped at 60s, up to 50% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      2 * time.Second,
		MaxDelay:       60 * time.Second,
		Multiplier:     2,
		JitterFraction: 0.5,
	}
}

// Delay returns the backoff before attempt n+1 (n is 1-based attempts
// already made), without jitter.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

type exhaustedError struct {
	attempts int
	err      error
}

func (e *exhaustedError) Error() string {
	return fmt.Sprintf("exhausted %d attempts: %v", e.attempts, e.err)
}

func (e *exhaustedError) Unwrap() error { return e.err }

// Exhausted reports whether err marks an operation that consumed all
// attempts of its policy.
func Exhausted(err error) bool {
	for err != nil {
		if _, ok := err.(*exhaustedError); ok {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Do invokes fn under the policy. On a retryable failure it sleeps the
// backoff and re-invokes; on a fatal classification it returns the error
// immediately without consuming further attempts. It returns the number
// of invocations made. The error after the final attempt is tagged as
// exhausted; Exhausted distinguishes it from a fatal error.
func Do(ctx context.Context, log *logger.Logger, op string, p Policy, fn func(context.Context) error, retryable func(error) bool) (int, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info("operation recovered", "op", op, "attempt", attempt)
			}
			return attempt, nil
		}
		lastErr = err

		if !retryable(err) {
			log.Warn("operation failed, not retryable",
				"op", op,
				"attempt", attempt,
				"error", err.Error(),
			)
			return attempt, err
		}

		if attempt == p.MaxAttempts {
			log.Error("operation exhausted retries",
				"op", op,
				"attempts", attempt,
				"error", err.Error(),
			)
			return attempt, &exhaustedError{attempts: attempt, err: err}
		}

		delay := p.Delay(attempt)
		if p.JitterFraction > 0 {
			delay += time.Duration(rand.Float64() * p.JitterFraction * float64(delay))
		}

		log.Warn("operation failed, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"delay_ms", delay.Milliseconds(),
			"error", err.Error(),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return attempt, ctx.Err()
		}
	}

	// Unreachable; the loop always returns.
	return p.MaxAttempts, lastErr
}
