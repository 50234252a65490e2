// Package backoff wraps codeGROOVE-dev/retry with the small policy surface the pipeline needs.
package backoff

import (
	"context"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// Policy describes how an operation is retried.
type Policy struct {
	// Attempts is the total number of calls, including the first. Values below 1 mean 1.
	Attempts uint
	// Delay is the pause before the first retry. Later retries double it unless Fixed is set.
	Delay time.Duration
	Fixed bool
	// DelayFor overrides Delay/Fixed for errors that need their own schedule.
	DelayFor func(n uint, err error) time.Duration
	// RetryIf limits retries to matching errors. Nil retries every recoverable error.
	RetryIf func(err error) bool
	// OnRetry runs before each pause with the 0-based index of the failed attempt.
	OnRetry func(n uint, err error)
	// Timer replaces time.After for the pauses between attempts.
	Timer Timer
}

// Timer produces the pause channel between attempts.
type Timer interface {
	After(d time.Duration) <-chan time.Time
}

// Permanent marks err as a verdict that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return retry.Unrecoverable(err)
}

// IsPermanent reports whether err was produced by Permanent.
func IsPermanent(err error) bool {
	return err != nil && !retry.IsRecoverable(err)
}

// Wait returns the pause before retry n (0-based).
func (p Policy) Wait(n uint, err error) time.Duration {
	if p.DelayFor != nil {
		return p.DelayFor(n, err)
	}
	if p.Fixed || n == 0 {
		return p.Delay
	}
	d := p.Delay
	for i := uint(0); i < n; i++ {
		d *= 2
	}
	return d
}

// Do calls fn until it succeeds, returns a permanent error, the predicate rejects the
// error, attempts run out, or ctx is cancelled. The last error is returned as is.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	opts := []retry.Option{
		retry.Attempts(attempts),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		// retry numbers the upcoming attempt, so the first pause arrives with n == 1.
		retry.DelayType(func(n uint, err error, _ *retry.Config) time.Duration {
			if n > 0 {
				n--
			}
			return p.Wait(n, err)
		}),
		retry.RetryIf(func(err error) bool {
			if IsPermanent(err) || ctx.Err() != nil {
				return false
			}
			return p.RetryIf == nil || p.RetryIf(err)
		}),
	}
	if p.OnRetry != nil {
		opts = append(opts, retry.OnRetry(p.OnRetry))
	}
	if p.Timer != nil {
		opts = append(opts, retry.WithTimer(p.Timer))
	}
	return retry.Do(func() error { return fn(ctx) }, opts...)
}
