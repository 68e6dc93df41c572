// Package retry wraps single upstream calls with bounded exponential
// backoff. Only "service unavailable" responses are retried; every other
// error is returned on the first occurrence.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/revscore/pkg/logger"
)

// Default policy parameters: 4 attempts, 1s doubling up to 60s.
const (
	DefaultMaxRetries  = 3
	DefaultInitial     = 1 * time.Second
	DefaultMaxInterval = 60 * time.Second
	backoffMultiplier  = 2.0
)

// StatusError reports a non-2xx HTTP response from an upstream service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned HTTP %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports whether err is the retryable 503 class.
func IsTransient(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusServiceUnavailable
}

// Policy retries an operation on transient failures.
type Policy struct {
	maxRetries  int
	initial     time.Duration
	maxInterval time.Duration
	retryable   func(error) bool
	onRetry     func(name string)
	logger      logger.Logger
}

// Option configures a Policy.
type Option func(*Policy)

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(p *Policy) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

// WithBackoff sets the first interval and the cap.
func WithBackoff(initial, maxInterval time.Duration) Option {
	return func(p *Policy) {
		if initial > 0 {
			p.initial = initial
		}
		if maxInterval >= initial && maxInterval > 0 {
			p.maxInterval = maxInterval
		}
	}
}

// WithRetryable replaces the transient-error classifier.
func WithRetryable(fn func(error) bool) Option {
	return func(p *Policy) {
		if fn != nil {
			p.retryable = fn
		}
	}
}

// WithRetryHook registers a callback invoked before every retry sleep.
func WithRetryHook(fn func(name string)) Option {
	return func(p *Policy) {
		p.onRetry = fn
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Policy) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Policy with the default parameters.
func New(opts ...Option) *Policy {
	p := &Policy{
		maxRetries:  DefaultMaxRetries,
		initial:     DefaultInitial,
		maxInterval: DefaultMaxInterval,
		retryable:   IsTransient,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("retry")
	}
	return p
}

// MaxAttempts returns the total number of attempts the policy makes.
func (p *Policy) MaxAttempts() int {
	return p.maxRetries + 1
}

func (p *Policy) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initial
	b.Multiplier = backoffMultiplier
	b.MaxInterval = p.maxInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.maxRetries)), ctx) //nolint:gosec // maxRetries is non-negative
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempts are exhausted. The last error is returned unchanged.
func Do[T any](ctx context.Context, p *Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil && !p.retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Warn(ctx, "transient upstream failure, retrying",
			logger.String("call", name),
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", p.MaxAttempts()),
			logger.Duration("backoff", wait),
			logger.Error(err),
		)
		if p.onRetry != nil {
			p.onRetry(name)
		}
	}
	return backoff.RetryNotifyWithData(operation, p.backoff(ctx), notify)
}
