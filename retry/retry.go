// Package retry re-runs store transactions that failed to commit.
//
// A compose writes one record per recipient and possibly the parent's
// reply date in a single transaction. Concurrent composes and moderation
// decisions on the same thread can make the database abort one of them
// (serialization failure, deadlock, or a record changed under a buffered
// transaction). Such a transaction has made no change and can simply run
// again.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rbaliyan/postman/store"
)

// Policy configures how often and how fast a transaction is re-run.
type Policy struct {
	// Attempts is the total number of runs, the first one included.
	// Values below 1 mean a single run.
	Attempts int

	// Backoff is the delay before the second run. It doubles on every
	// further run, up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// Jitter spreads each delay by up to this fraction in both directions.
	Jitter float64

	// Retryable decides whether a failed run may be repeated.
	// Defaults to Conflict.
	Retryable func(error) bool
}

// DefaultPolicy runs a transaction up to three times.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   3,
		Backoff:    20 * time.Millisecond,
		MaxBackoff: 500 * time.Millisecond,
		Jitter:     0.2,
		Retryable:  Conflict,
	}
}

// ErrExhausted is matched by the error returned once every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Conflict reports whether err is a commit failure that left nothing
// behind.
func Conflict(err error) bool {
	return errors.Is(err, store.ErrTransactionFailed)
}

// Error reports a transaction that kept failing.
type Error struct {
	Cause    error
	Attempts int
}

func (e *Error) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool { return target == ErrExhausted }

// Do runs fn until it succeeds, fails with a non-retryable error, attempts
// run out or ctx is done. A non-retryable error is returned unchanged.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.normalize()

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !p.Retryable(err) {
			return err
		}
		if attempt >= p.Attempts {
			return &Error{Cause: err, Attempts: attempt}
		}

		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return &Error{Cause: errors.Join(err, ctx.Err()), Attempts: attempt}
		case <-timer.C:
		}
	}
}

// delay returns the pause after the given failed attempt.
func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.Backoff) * math.Pow(2, float64(attempt-1))
	if d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	if p.Jitter > 0 {
		spread := d * p.Jitter
		d = d - spread + rand.Float64()*2*spread
	}
	return time.Duration(d)
}

func (p Policy) normalize() Policy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Backoff <= 0 {
		p.Backoff = 20 * time.Millisecond
	}
	if p.MaxBackoff < p.Backoff {
		p.MaxBackoff = p.Backoff
	}
	p.Jitter = min(max(p.Jitter, 0), 1)
	if p.Retryable == nil {
		p.Retryable = Conflict
	}
	return p
}
