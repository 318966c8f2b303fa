// Package retry implements the bounded-attempt policy shared by every external
// call in the pipeline: LLM transport requests, stage-level corrective
// re-prompts, and persona suggestion.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 8 * time.Second
)

// Classifier decides whether err warrants another attempt. A positive after
// overrides the exponential backoff for the next attempt (Retry-After).
type Classifier func(err error) (retry bool, after time.Duration)

// Policy describes how many times an operation runs and how long to wait
// between attempts. A zero MaxAttempts means three attempts; a zero BaseDelay
// retries immediately.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Classify    Classifier
	// Sleeper replaces the timer wait; tests use it to avoid real delays.
	Sleeper func(time.Duration)
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable regardless of the classifier.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Default returns the policy used when configuration does not override it.
func Default() Policy {
	return Policy{MaxAttempts: defaultMaxAttempts, BaseDelay: defaultBaseDelay, MaxDelay: defaultMaxDelay}
}

// Attempts returns the effective attempt limit.
func (p Policy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return p.MaxAttempts
}

// Do runs op until it succeeds, returns a non-retryable error, the context
// ends, or the attempt limit is reached. op receives the 1-based attempt
// number and the error from the previous attempt (nil on the first).
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int, prev error) error) error {
	attempts := p.Attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return err
		}
		err := op(ctx, attempt, lastErr)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsPermanent(err) {
			return unwrapPermanent(err)
		}
		if errors.Is(err, context.Canceled) || (ctx.Err() != nil) {
			return err
		}
		retry, after := p.classify(err)
		if !retry {
			return err
		}
		if attempt == attempts {
			break
		}
		delay := p.backoffDelay(attempt)
		if after > 0 {
			delay = p.capDelay(after)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}
	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}

func unwrapPermanent(err error) error {
	var p *permanentError
	if errors.As(err, &p) {
		return p.err
	}
	return err
}

func (p Policy) classify(err error) (bool, time.Duration) {
	if p.Classify == nil {
		return true, 0
	}
	return p.Classify(err)
}

// backoffDelay doubles from BaseDelay per attempt: 1 -> base, 2 -> base*2, ...
func (p Policy) backoffDelay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		return 0
	}
	maxDelay := p.maxDelay()
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return p.capDelay(delay)
}

func (p Policy) maxDelay() time.Duration {
	if p.MaxDelay > 0 {
		return p.MaxDelay
	}
	return defaultMaxDelay
}

func (p Policy) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if maxDelay := p.maxDelay(); delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (p Policy) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if p.Sleeper != nil {
		p.Sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
