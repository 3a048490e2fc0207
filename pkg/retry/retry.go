// Copyright © 2018 One Concern

// Package retry drives read-modify-write attempts, retrying those which lost a compare-and-swap race.
//
// Each attempt must perform fresh reads: the driver never replays a previous attempt. Only lock
// failures are retried. Any other error ends the loop and is returned unchanged.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oneconcern/refdb/pkg/core/status"
	"github.com/oneconcern/refdb/pkg/errors"
	"github.com/oneconcern/refdb/pkg/metrics"
	"go.uber.org/zap"
)

// Attempt performs one full transaction cycle. The attempt number starts at 1.
type Attempt func(ctx context.Context, attempt int) error

// Driver runs attempts until one succeeds, fails for good or the retry budget is exhausted
type Driver struct {
	timeout         time.Duration
	initialInterval time.Duration
	maxInterval     time.Duration
	maxAttempts     uint64
	l               *zap.Logger
	metrics         *metrics.Metrics
}

// New retry driver
func New(opts ...Option) *Driver {
	d := &Driver{
		timeout:         defaultTimeout,
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		l:               zap.NewNop(),
	}
	for _, apply := range opts {
		apply(d)
	}
	return d
}

func (d *Driver) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.initialInterval
	exp.MaxInterval = d.maxInterval
	exp.MaxElapsedTime = d.timeout
	exp.Reset()

	var b backoff.BackOff = exp
	if d.maxAttempts > 0 {
		b = backoff.WithMaxRetries(b, d.maxAttempts-1)
	}
	return backoff.WithContext(b, ctx)
}

// Run attempts some operation.
//
// The loop stops on success, on any error which is not a lock failure, or when the retry budget
// (timeout, attempts or context) is exhausted. In the latter case, the error is status.ErrRetryExhausted
// wrapping the last lock failure. Cancellation is only observed between attempts.
func (d *Driver) Run(ctx context.Context, name string, attempt Attempt) error {
	var (
		count   int
		lastErr error
	)
	l := d.l.With(zap.String("operation", name))

	operation := func() error {
		if count > 0 {
			if err := ctx.Err(); err != nil {
				return backoff.Permanent(err)
			}
		}
		count++

		err := attempt(ctx, count)
		switch {
		case err == nil:
			d.metrics.Attempt(metrics.ResultSuccess)
			if count > 1 {
				l.Debug("attempt succeeded after conflicts", zap.Int("attempt", count))
			}
			return nil
		case errors.Is(err, status.ErrLockFailure):
			d.metrics.Attempt(metrics.ResultConflict)
			lastErr = err
			return err
		default:
			d.metrics.Attempt(metrics.ResultFatal)
			return backoff.Permanent(err)
		}
	}

	notify := func(err error, next time.Duration) {
		l.Debug("conflict, retrying", zap.Int("attempt", count), zap.Duration("backoff", next), zap.Error(err))
	}

	err := backoff.RetryNotify(operation, d.backOff(ctx), notify)
	if err == nil {
		return nil
	}
	if lastErr == nil || (err != lastErr && !isContextError(err)) {
		// fatal error, returned unchanged
		return err
	}

	d.metrics.Attempt(metrics.ResultExhausted)
	l.Warn("retries exhausted", zap.Int("attempts", count), zap.Error(lastErr))
	return status.ErrRetryExhausted.Wrap(lastErr).WrapMessage("%s gave up after %d attempts", name, count)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
