// Package retry re-runs idempotent storage calls that failed with
// model.ErrStorageUnavailable.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"go-identity-service/internal/model"
)

type Policy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// OnRetry is called before each new attempt.
	OnRetry func(operation string, err error)
}

// Do runs fn until it succeeds, fails with an error other than
// ErrStorageUnavailable, runs out of attempts or ctx is done.
func Do[T any](ctx context.Context, p Policy, operation string, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	result, err := backoff.Retry(ctx, func() (T, error) {
		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, model.ErrStorageUnavailable) {
			return value, backoff.Permanent(err)
		}
		return value, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Warn("retrying storage call", "operation", operation, "wait", wait, "error", err)
			if p.OnRetry != nil {
				p.OnRetry(operation, err)
			}
		}),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return result, permanent.Err
	}
	return result, err
}

// Exec is Do for calls without a result.
func Exec(ctx context.Context, p Policy, operation string, fn func(context.Context) error) error {
	_, err := Do(ctx, p, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
