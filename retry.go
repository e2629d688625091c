package symphony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"time"
)

// UnboundedAttempts disables the attempt cap on a RetryPolicy.
const UnboundedAttempts = -1

// RetryPolicy configures exponential backoff for outbound calls. It is
// immutable configuration; Do is reentrant and concurrent calls retry
// independently.
type RetryPolicy struct {
	MaxAttempts     int           // total attempts; UnboundedAttempts for no cap
	InitialInterval time.Duration // wait before the second attempt
	Multiplier      float64       // growth factor between waits
	MaxInterval     time.Duration // cap on the wait between attempts
}

// DefaultRetryPolicy mirrors the adapter's stock settings: 10 attempts,
// 500ms initial wait, doubling up to 5 minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     10,
		InitialInterval: 500 * time.Millisecond,
		Multiplier:      2.0,
		MaxInterval:     300 * time.Second,
	}
}

// TransientError marks a failure as retryable (network timeout, rate limit,
// server-side error). Anything not wrapped in TransientError is treated as
// terminal and never retried.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so the retry controller will retry it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable: either explicitly marked via
// Transient, or a net.Error timeout.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ExhaustedError reports a transient failure that survived every allowed
// attempt.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Interval returns the backoff wait after the given failed attempt (1-based):
// min(InitialInterval * Multiplier^(attempt-1), MaxInterval).
func (p RetryPolicy) Interval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempt-1))
	if max := float64(p.MaxInterval); p.MaxInterval > 0 && d > max {
		d = max
	}
	return time.Duration(d)
}

// Do runs op until it succeeds, fails terminally, exhausts the attempt cap,
// or ctx is cancelled. Backoff waits respect ctx so shutdown abandons
// in-flight retries instead of sleeping them out.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, op func() error) error {
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if p.MaxAttempts != UnboundedAttempts && attempt >= p.MaxAttempts {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		backoff := p.Interval(attempt)
		if logger != nil {
			logger.Warn("transient failure, will retry",
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
			)
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
