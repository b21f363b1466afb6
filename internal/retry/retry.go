// Package retry provides the shared backoff policy used by every
// network-facing component: subgraph and explorer fetchers, the price
// client, and warehouse sinks.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default policy values.
const (
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultMultiplier  = 2.0
	DefaultMaxAttempts = 3
)

// Policy describes how an operation is retried: exponential backoff
// starting at BaseDelay, multiplied by Multiplier up to MaxDelay, for at
// most MaxAttempts attempts. Only errors accepted by Retriable are
// retried; everything else propagates immediately.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	MaxAttempts int
	Retriable   func(error) bool
}

// DefaultPolicy returns a policy with the default delays and IsTransient
// as the retriable predicate.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Multiplier:  DefaultMultiplier,
		MaxAttempts: DefaultMaxAttempts,
		Retriable:   IsTransient,
	}
}

// normalized fills zero fields with defaults.
func (p Policy) normalized() Policy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Multiplier <= 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Retriable == nil {
		p.Retriable = IsTransient
	}
	return p
}

// Do runs op under the policy. The context is checked before every
// backoff sleep so cancellation is not delayed by the full wait.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	p = p.normalized()

	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * p.Multiplier)
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if !p.Retriable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("gave up after %d attempts: %w", p.MaxAttempts, lastErr)
}

// transientError marks an error as retriable.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

func (e *transientError) Transient() bool { return true }

// Transient wraps err so that IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err, or any error it wraps, declares
// itself retriable via a Transient() bool method. Timeouts, 5xx
// responses, and rate limits are marked transient at their origin;
// schema conflicts and other client errors are not.
func IsTransient(err error) bool {
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	return false
}
