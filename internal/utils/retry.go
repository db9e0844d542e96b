package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultBackoff allows 5 retries after the first attempt.
var DefaultBackoff = Backoff{
	MaxAttempts: 6,
	BaseDelay:   500 * time.Millisecond,
	Multiplier:  2,
	MaxDelay:    30 * time.Second,
}

var ErrRetriesExhausted = errors.New("retries exhausted")

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so that Retry returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func (b Backoff) Delay(retry int) time.Duration {
	delay := float64(b.BaseDelay)
	for range retry {
		delay *= b.Multiplier
	}
	d := time.Duration(delay)
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}

// Retry calls fn until it succeeds, returns a Permanent error, the attempts
// run out or ctx is done. Permanent errors are returned unwrapped.
func Retry(ctx context.Context, b Backoff, fn func(attempt int) error) error {
	attempts := max(b.MaxAttempts, 1)
	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			timer := time.NewTimer(b.Delay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		err := fn(attempt)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}
