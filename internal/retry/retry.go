// Package retry applies a bounded exponential backoff policy to calls
// against unreliable collaborators. Only transient failures are retried;
// anything else aborts immediately.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// ErrTransient marks an error as retryable when wrapped with Transient.
var ErrTransient = errors.New("transient failure")

// transienter is implemented by errors that know whether they are worth
// retrying (timeouts, rate limits, 5xx responses).
type transienter interface {
	Transient() bool
}

// Transient wraps err so IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

func (e *transientError) Transient() bool { return true }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t transienter
	if errors.As(err, &t) {
		return t.Transient()
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// Policy is an explicit retry policy value, testable in isolation.
type Policy struct {
	// MaxAttempts bounds the total number of tries, the first one included.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; it doubles on every
	// further attempt up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// JitterFraction randomizes each delay by up to the given fraction in
	// either direction. Zero disables jitter, which tests rely on.
	JitterFraction float64
}

// DefaultPolicy matches the configured defaults for classifier calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      2 * time.Second,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.2,
	}
}

// Delay returns the backoff before the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.BaseDelay <= 0 {
		return 0
	}

	delay := p.BaseDelay
	for i := 2; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.JitterFraction > 0 {
		spread := float64(delay) * p.JitterFraction
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
		if delay < 0 {
			delay = 0
		}
	}

	return delay
}

// Do runs fn under the policy and returns the number of attempts made along
// with the final error. A non-transient error or a cancelled context stops
// the loop immediately.
func Do(ctx context.Context, policy Policy, logger *zap.Logger, name string, fn func(ctx context.Context) error) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if wait := policy.Delay(attempt); wait > 0 {
			logger.Debug("backing off before retry",
				zap.String("operation", name),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
			)
			if werr := sleep(ctx, wait); werr != nil {
				return attempt - 1, werr
			}
		}

		err = fn(ctx)
		if err == nil {
			return attempt, nil
		}

		if !IsTransient(err) {
			logger.Debug("not retrying permanent failure",
				zap.String("operation", name),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return attempt, err
		}

		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}

		logger.Debug("transient failure",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
	}

	return attempts, err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
