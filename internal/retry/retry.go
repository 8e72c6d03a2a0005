// Package retry runs store operations with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
	// Retryable decides whether an error is worth another attempt.
	// A nil Retryable never retries.
	Retryable func(error) bool
	Log       *zap.Logger
}

func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxElapsed:      3 * time.Second,
		Retryable:       retryable,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, the elapsed
// budget runs out or ctx is done. The last error from fn is returned.
func Do(ctx context.Context, p Policy, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 3 * time.Second
	if p.MaxElapsed > 0 {
		b.MaxElapsedTime = p.MaxElapsed
	}

	attempt := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if p.Log != nil {
			p.Log.Warn("transient failure, retrying",
				zap.String("op", op),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}
	}

	return backoff.RetryNotify(attempt, backoff.WithContext(b, ctx), notify)
}
